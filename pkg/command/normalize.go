// Package command implements the operator command protocol: alias
// normalization and the two-phase confirmation guard for destructive
// operations.
package command

import (
	"sort"
	"strings"
)

// ID is a canonical short-form command identifier. Downstream components
// only ever see short forms; long forms are rewritten during
// normalization.
type ID string

const (
	Menu       ID = "M"
	List       ID = "L"
	Start      ID = "S"
	Stop       ID = "X"
	Status     ID = "ST"
	ClearAll   ID = "C"
	Delete     ID = "D"
	Reboot     ID = "R"
	Signal     ID = "SQ"
	Transmit   ID = "T"
	Validate   ID = "VD"
	Duration   ID = "DT"
	Interval   ID = "UI"
	Message    ID = "P"
	Help       ID = "H"
	QuickTrack ID = "QT"

	// Unknown marks input that matched no alias. The dispatcher treats
	// it as a free-text artifact read request.
	Unknown ID = ""
)

// Alias pairs a short command with its descriptive long form.
type Alias struct {
	Short       ID
	Long        string
	Description string
}

// Aliases is the operator command vocabulary.
var Aliases = []Alias{
	{Menu, "MENU", "Show command menu"},
	{List, "LIST", "List stored log files"},
	{Start, "START_LOG", "Start data collection"},
	{Stop, "STOP_LOG", "Stop data collection"},
	{Status, "STATUS", "Show system status"},
	{ClearAll, "CLEAR_ALL", "Erase all stored log files"},
	{Delete, "DELETE", "Delete a specific log file"},
	{Reboot, "REBOOT", "Restart the device"},
	{Signal, "SIGNAL", "Check uplink signal quality"},
	{Transmit, "TRANSMIT", "Transmit pending data"},
	{Validate, "VALIDATE", "Validate a log file"},
	{Duration, "DURATION", "Set collection duration (minutes)"},
	{Interval, "INTERVAL", "Set sample interval (ms)"},
	{Message, "MESSAGE", "Send a quick text message"},
	{Help, "HELP", "Show help information"},
	{QuickTrack, "QUICK_TRACK", "Activate quick tracking preset"},
}

// byShortLen orders aliases longest-short-form first so that prefix
// matching prefers "DT" over "D" and "ST" over "S".
var byShortLen []Alias

func init() {
	byShortLen = make([]Alias, len(Aliases))
	copy(byShortLen, Aliases)
	sort.SliceStable(byShortLen, func(i, j int) bool {
		return len(byShortLen[i].Short) > len(byShortLen[j].Short)
	})
}

// Command is the result of normalizing one raw operator input.
type Command struct {
	// ID is the canonical short form, or Unknown if nothing matched.
	ID ID

	// Params is the residual parameter text: the numeric argument of
	// DT15/DURATION 15, the filename of DELETE, the text of MESSAGE.
	Params string

	// Raw preserves the input exactly as received. The confirmation
	// guard compares Raw, never the normalized form.
	Raw string
}

// Canonical reconstructs the short-form input equivalent to this
// command, suitable for re-normalization. The separator keeps a
// parameter starting with "T" from turning "D X.DAT" into a "DT..."
// token.
func (c Command) Canonical() string {
	if c.ID == Unknown {
		return c.Raw
	}
	if c.Params == "" {
		return string(c.ID)
	}
	return string(c.ID) + " " + c.Params
}

// Normalize maps a raw operator token to a canonical command. Short
// forms match case-sensitively, long forms case-insensitively; inline
// parameters ("DT15", "DURATION15", "DELETE OLD.DAT") are split off.
// Input that matches no alias is passed through unchanged.
func Normalize(raw string) Command {
	input := strings.TrimSpace(raw)
	if input == "" {
		return Command{ID: Unknown, Raw: raw}
	}

	upper := strings.ToUpper(input)

	// Exact matches first: short form exact (case-sensitive), then long
	// form exact (case-insensitive).
	for _, a := range byShortLen {
		if input == string(a.Short) {
			return Command{ID: a.Short, Raw: raw}
		}
	}
	for _, a := range byShortLen {
		if upper == a.Long {
			return Command{ID: a.Short, Raw: raw}
		}
	}

	// Prefix matches with trailing parameters. Long forms are tried
	// first so that "DURATION 15" is not captured by the short form "D";
	// short forms are tried longest first so "DT5" is not captured by "D".
	for _, a := range byShortLen {
		if strings.HasPrefix(upper, a.Long) {
			return Command{
				ID:     a.Short,
				Params: strings.TrimSpace(input[len(a.Long):]),
				Raw:    raw,
			}
		}
	}
	for _, a := range byShortLen {
		if strings.HasPrefix(input, string(a.Short)) {
			return Command{
				ID:     a.Short,
				Params: strings.TrimSpace(input[len(a.Short):]),
				Raw:    raw,
			}
		}
	}

	return Command{ID: Unknown, Raw: raw}
}

// Lookup returns the alias for an ID.
func Lookup(id ID) (Alias, bool) {
	for _, a := range Aliases {
		if a.Short == id {
			return a, true
		}
	}
	return Alias{}, false
}
