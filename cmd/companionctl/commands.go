package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ashureev/persona-companion/internal/domain"
	"github.com/ashureev/persona-companion/internal/memory"
	"github.com/ashureev/persona-companion/internal/personality"
	"github.com/ashureev/persona-companion/internal/responder"
	"github.com/ashureev/persona-companion/internal/session"
)

func newExtractCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract a memory profile from a conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msgs, err := readConversation(cmd, file)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				return errors.New("no messages provided")
			}
			mem := memory.New(a.completer, a.logger).Extract(cmd.Context(), msgs)
			return printJSON(cmd.OutOrStdout(), mem)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "conversation JSON file, - for stdin")
	return cmd
}

func newGenerateCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a neutral reply to a conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msgs, err := readConversation(cmd, file)
			if err != nil {
				return err
			}
			reply, err := responder.New(a.completer, a.logger).Generate(cmd.Context(), msgs)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), reply)
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "conversation JSON file, - for stdin")
	return cmd
}

func newTransformCmd(a *app) *cobra.Command {
	var (
		file string
		p    string
	)
	cmd := &cobra.Command{
		Use:   "transform <reply>",
		Short: "Restyle a reply in a personality's voice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pt := domain.PersonalityType(p)
			if !pt.Valid() {
				return fmt.Errorf("unknown personality %q", p)
			}

			var recent []domain.Message
			mem := domain.EmptyMemory()
			if file != "" {
				msgs, err := readConversation(cmd, file)
				if err != nil {
					return err
				}
				recent = msgs
				mem = memory.New(a.completer, a.logger).Extract(cmd.Context(), msgs)
			}

			out := personality.NewTransformer(a.completer, a.logger).Transform(cmd.Context(), args[0], pt, mem, recent)
			_, err := fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringVarP(&p, "personality", "p", string(domain.PersonalityNeutral), "calm_mentor, witty_friend, therapist or neutral")
	cmd.Flags().StringVarP(&file, "file", "f", "", "optional conversation JSON used for memory and context")
	return cmd
}

func newPersonalitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "personalities",
		Short: "List the built-in personalities",
		Args:  cobra.NoArgs,
		// Listing needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(personality.All())
		},
	}
}

func newSampleCmd(a *app) *cobra.Command {
	var extract bool
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Print the built-in sample conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msgs := session.SampleConversation(time.Now())
			if !extract {
				return printJSON(cmd.OutOrStdout(), msgs)
			}
			mem := memory.New(a.completer, a.logger).Extract(cmd.Context(), msgs)
			return printJSON(cmd.OutOrStdout(), mem)
		},
	}
	cmd.Flags().BoolVar(&extract, "extract", false, "print the extracted memory instead of the messages")
	return cmd
}
