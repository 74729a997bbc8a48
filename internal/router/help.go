package router

import (
	"fmt"
	"strings"
)

// HelpText lists visible commands, or details one command when args names it.
func (m *Router) HelpText(args []string) string {
	if len(args) > 0 {
		if c, ok := m.lookup(args[0]); ok && !c.Hidden {
			var b strings.Builder
			fmt.Fprintf(&b, "/%s - %s", c.Name, c.Description)
			if c.Usage != "" {
				fmt.Fprintf(&b, "\n%s", c.Usage)
			}
			if len(c.Aliases) > 0 {
				fmt.Fprintf(&b, "\naliases: /%s", strings.Join(c.Aliases, ", /"))
			}
			return b.String()
		}
		return fmt.Sprintf("Unknown command %q. Try /help", args[0])
	}

	var b strings.Builder
	b.WriteString("Commands:")
	for _, c := range m.Commands() {
		fmt.Fprintf(&b, "\n/%s - %s", c.Name, c.Description)
	}
	return b.String()
}
