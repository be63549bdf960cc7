package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	storiesCmd := &cobra.Command{Use: "stories", Short: "Story operations"}

	// create
	var ownerID, mediaPath, caption, kind, visibility string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a story from a media file",
		RunE: func(cmd *cobra.Command, args []string) error {
			media, err := os.ReadFile(mediaPath)
			if err != nil {
				return err
			}
			payload := map[string]interface{}{
				"ownerId":    ownerID,
				"media":      base64.StdEncoding.EncodeToString(media),
				"kind":       kind,
				"visibility": visibility,
			}
			if caption != "" {
				payload["caption"] = caption
			}
			data, err := doPostJSON(fmt.Sprintf("%s/api/stories", apiFlag), payload)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	createCmd.Flags().StringVarP(&ownerID, "owner", "o", "", "Owner ID (required)")
	createCmd.Flags().StringVarP(&mediaPath, "media", "m", "", "Path to media file (required)")
	createCmd.Flags().StringVarP(&caption, "caption", "c", "", "Caption")
	createCmd.Flags().StringVarP(&kind, "kind", "k", "image", "Content kind (image|video)")
	createCmd.Flags().StringVarP(&visibility, "visibility", "v", "public", "Visibility (public|friends)")
	_ = createCmd.MarkFlagRequired("owner")
	_ = createCmd.MarkFlagRequired("media")
	storiesCmd.AddCommand(createCmd)

	// get
	getCmd := &cobra.Command{
		Use:   "get STORY_ID",
		Short: "Get story metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doGet(fmt.Sprintf("%s/api/stories/%s", apiFlag, args[0]))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	storiesCmd.AddCommand(getCmd)

	// key
	keyCmd := &cobra.Command{
		Use:   "key STORY_ID VIEWER_ID",
		Short: "Fetch a viewer's wrapped story key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doGet(fmt.Sprintf("%s/api/stories/%s/key/%s", apiFlag, args[0], args[1]))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	storiesCmd.AddCommand(keyCmd)

	// purge
	purgeCmd := &cobra.Command{
		Use:   "purge STORY_ID",
		Short: "Purge a story immediately (idempotent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := doDelete(fmt.Sprintf("%s/api/stories/%s", apiFlag, args[0])); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, "purged")
			return nil
		},
	}
	storiesCmd.AddCommand(purgeCmd)

	rootCmd.AddCommand(storiesCmd)
}
