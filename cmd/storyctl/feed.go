package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	var cursor, visibility string
	var pageSize int
	feedCmd := &cobra.Command{
		Use:   "feed",
		Short: "Fetch a feed page",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if cursor != "" {
				q.Set("cursor", cursor)
			}
			if visibility != "" {
				q.Set("visibility", visibility)
			}
			if pageSize > 0 {
				q.Set("pageSize", fmt.Sprint(pageSize))
			}
			u := fmt.Sprintf("%s/api/feed", apiFlag)
			if enc := q.Encode(); enc != "" {
				u += "?" + enc
			}
			data, err := doGet(u)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	feedCmd.Flags().StringVarP(&cursor, "cursor", "c", "", "Keyset cursor from a previous page")
	feedCmd.Flags().StringVarP(&visibility, "visibility", "v", "", "Filter by visibility (public|friends)")
	feedCmd.Flags().IntVarP(&pageSize, "page-size", "n", 0, "Page size")
	rootCmd.AddCommand(feedCmd)
}
