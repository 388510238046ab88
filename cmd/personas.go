package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zjrosen/crewchat/internal/persona"
)

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List the crew in pipeline order",
	Long:  `Display every persona with its role and the kind of message it produces. The first two answer new conversations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		printPersonas(cmd.OutOrStdout(), persona.All())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(personasCmd)
}

func printPersonas(w io.Writer, personas []persona.Persona) {
	maxLen := maxNameLen(personas)
	for i, p := range personas {
		_, _ = fmt.Fprintf(w, "  %d. %s %-*s  %-10s %s\n", i+1, p.Avatar, maxLen, p.Name, p.Kind, p.Role)
	}
}

// maxNameLen returns the length of the longest persona name in the slice.
func maxNameLen(personas []persona.Persona) int {
	maxLen := 0
	for _, p := range personas {
		if len(p.Name) > maxLen {
			maxLen = len(p.Name)
		}
	}
	return maxLen
}
