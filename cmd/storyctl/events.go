package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	var viewerID, kind string
	eventCmd := &cobra.Command{
		Use:   "event STORY_ID",
		Short: "Record an engagement event (counted at most once per viewer and kind)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if viewerID == "" {
				return fmt.Errorf("--viewer required")
			}
			payload := map[string]string{"viewerId": viewerID, "kind": kind}
			data, err := doPostJSON(fmt.Sprintf("%s/api/stories/%s/events", apiFlag, args[0]), payload)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	eventCmd.Flags().StringVarP(&viewerID, "viewer", "u", "", "Viewer ID (required)")
	eventCmd.Flags().StringVarP(&kind, "kind", "k", "view", "Event kind (view|like|share)")
	_ = eventCmd.MarkFlagRequired("viewer")
	rootCmd.AddCommand(eventCmd)
}
