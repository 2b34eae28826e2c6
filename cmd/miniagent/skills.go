// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/puppylab/miniagent/pkg/skills"
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect the skills directory",
	Long:  `Load the configured skills directory and print what the model will see.`,
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded skills",
	Args:  cobra.NoArgs,
	RunE:  runSkillsList,
}

var skillsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one skill's usage, parameters and examples",
	Args:  cobra.ExactArgs(1),
	RunE:  runSkillsShow,
}

var skillsDir string

func init() {
	rootCmd.AddCommand(skillsCmd)
	skillsCmd.AddCommand(skillsListCmd)
	skillsCmd.AddCommand(skillsShowCmd)

	skillsCmd.PersistentFlags().StringVar(&skillsDir, "dir", "", "Skills directory (overrides skills.dir)")
}

func loadSkills(cmd *cobra.Command) (*skills.Registry, error) {
	dir := skillsDir
	if dir == "" {
		cfg, _, err := loadConfig()
		if err != nil {
			return nil, err
		}
		dir = cfg.Skills.Dir
	}
	return skills.LoadDir(cmd.Context(), dir)
}

func runSkillsList(cmd *cobra.Command, _ []string) error {
	reg, err := loadSkills(cmd)
	if err != nil {
		return err
	}
	printSkillList(cmd.OutOrStdout(), reg.List())
	return nil
}

func runSkillsShow(cmd *cobra.Command, args []string) error {
	reg, err := loadSkills(cmd)
	if err != nil {
		return err
	}
	d, err := reg.Resolve(args[0])
	if err != nil {
		return err
	}
	printSkill(cmd.OutOrStdout(), d)
	return nil
}

func printSkillList(w io.Writer, list []skills.Descriptor) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no skills found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPARAMETERS\tDESCRIPTION")
	for _, d := range list {
		names := make([]string, len(d.Parameters))
		for i, p := range d.Parameters {
			names[i] = p.Name
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, strings.Join(names, ","), firstLine(d.Description))
	}
	_ = tw.Flush()
}

func printSkill(w io.Writer, d skills.Descriptor) {
	fmt.Fprintf(w, "%s\n\n%s\n\nUsage:\n  %s\n", d.Name, d.Description, d.Template)
	if len(d.Parameters) > 0 {
		fmt.Fprintln(w, "\nParameters:")
		for _, p := range d.Parameters {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(w, "  %s (%s, %s): %s\n", p.Name, p.Type, req, p.Description)
		}
	}
	if len(d.Examples) > 0 {
		fmt.Fprintln(w, "\nExamples:")
		for _, ex := range d.Examples {
			fmt.Fprintf(w, "  %s\n", ex)
		}
	}
	if d.Timeout > 0 {
		fmt.Fprintf(w, "\nTimeout: %s\n", d.Timeout)
	}
	if d.Source != "" {
		fmt.Fprintf(w, "Source: %s\n", d.Source)
	}
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
