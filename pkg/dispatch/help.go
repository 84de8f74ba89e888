package dispatch

import (
	"fmt"
	"strings"

	"github.com/trackflow/trackflow/pkg/command"
)

// defaultHelp renders the menu and per-command help from the alias
// table, so the operator surface and the parser can never disagree.
type defaultHelp struct{}

func (defaultHelp) Menu() string {
	var b strings.Builder
	b.WriteString("TRACKFLOW COMMANDS\n")
	for _, a := range command.Aliases {
		fmt.Fprintf(&b, "%-3s %-12s %s\n", a.Short, a.Long, a.Description)
	}
	b.WriteString("Long forms accept any case; short forms are exact.")
	return b.String()
}

func (defaultHelp) Help(topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "H<command> for details, M for the full menu."
	}
	cmd := command.Normalize(topic)
	a, ok := command.Lookup(cmd.ID)
	if !ok {
		return fmt.Sprintf("No help for %q. Send M for the menu.", topic)
	}
	return fmt.Sprintf("%s (%s): %s", a.Short, a.Long, a.Description)
}
