package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/polzovatel/stepwright/internal/decompose"
	"github.com/polzovatel/stepwright/internal/grammar"
	"github.com/polzovatel/stepwright/internal/parser"
)

var parseCmd = &cobra.Command{
	Use:   "parse <instruction> [instruction ...]",
	Short: "Show how instructions would be interpreted, without a browser",
	Long: `Parse instructions and print the resulting steps: intent,
category, target descriptors, and parse confidence. Compound
instructions are decomposed first. Nothing is executed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine := grammar.NewEngine(log.With().Str("comp", "grammar").Logger())
		p := parser.New(engine, log.With().Str("comp", "parser").Logger())

		var failed bool
		for _, instruction := range args {
			result := decompose.Decompose(instruction)
			for _, sub := range result.Steps {
				if err := printSub(p, sub); err != nil {
					fmt.Printf("  ERROR %v\n", err)
					failed = true
				}
			}
		}
		if failed {
			return fmt.Errorf("some instructions could not be parsed")
		}
		return nil
	},
}

func printSub(p *parser.Parser, sub decompose.SubInstruction) error {
	switch sub.Kind {
	case decompose.KindConditional:
		fmt.Printf("if %s is %s (negate=%v):\n", sub.Element, sub.Check, sub.Negate)
	case decompose.KindLoop:
		fmt.Printf("repeat %d times:\n", sub.Count)
	}

	step, err := p.Parse(sub.Text)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-16s conf=%.2f", step.Category, step.Intent, step.Confidence)
	if len(step.Target.Descriptors) > 0 {
		fmt.Fprintf(&b, "  target=%q", strings.Join(step.Target.Descriptors, " "))
	}
	if step.Target.ElementType != "" {
		fmt.Fprintf(&b, " type=%s", step.Target.ElementType)
	}
	if v, ok := step.Parameters["value"]; ok {
		fmt.Fprintf(&b, " value=%q", v)
	}
	fmt.Printf("  %s  <- %q\n", b.String(), sub.Text)
	return nil
}
