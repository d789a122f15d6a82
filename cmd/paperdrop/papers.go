package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/PaperDrop/internal/model"
	"github.com/dharsanguruparan/PaperDrop/internal/s3storage"
)

func newPapersCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "papers",
		Short: "List saved papers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			cred, err := a.credential(cmd.Context())
			if err != nil {
				return err
			}
			papers, err := a.client.ListPapers(cmd.Context(), cred)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tSUBJECT\tYEAR\tMARKS")
			for _, p := range papers {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", p.ID, p.Title, p.Subject, p.Year, p.TotalMarks)
			}
			return tw.Flush()
		},
	}
}

func newQuestionsCmd(flags *rootFlags) *cobra.Command {
	var paperID string
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "List the questions of a paper",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			cred, err := a.credential(cmd.Context())
			if err != nil {
				return err
			}
			qs, err := a.client.ListQuestions(cmd.Context(), cred, paperID)
			if err != nil {
				return err
			}
			items := make([]model.ParsedItem, len(qs))
			for i, q := range qs {
				items[i] = q.ParsedItem
				items[i].ID = q.ID
			}
			return printItems(a.out, items)
		},
	}
	cmd.Flags().StringVar(&paperID, "paper", "", "Paper ID")
	_ = cmd.MarkFlagRequired("paper")
	return cmd
}

// newSourceCmd fetches the archived source PDF of a saved paper.
func newSourceCmd(flags *rootFlags) *cobra.Command {
	var (
		output string
		link   bool
	)
	cmd := &cobra.Command{
		Use:   "source <paper-id> <file-name>",
		Short: "Download the archived PDF of a saved paper, or print a link to it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			if !a.cfg.Archive.Enabled {
				return errors.New("archiving is disabled; set archive.enabled in the config")
			}
			archive, err := s3storage.New(a.cfg.Archive, a.logger)
			if err != nil {
				return err
			}
			key := s3storage.ObjectKey(args[0], args[1])
			if link {
				u, err := archive.PresignURL(cmd.Context(), key)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, u)
				return nil
			}
			data, err := archive.Download(cmd.Context(), key)
			if err != nil {
				return err
			}
			if output == "" {
				output = filepath.Base(args[1])
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(a.out, "Wrote %s (%d bytes)\n", output, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Where to write the file (default: the file name)")
	cmd.Flags().BoolVar(&link, "link", false, "Print a pre-signed download link instead")
	return cmd
}
