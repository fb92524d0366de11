package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"om-smart-go/internal/chunker"
)

var (
	chunkMime string
	chunkJSON bool
)

var chunkCmd = &cobra.Command{
	Use:   "chunk [file]",
	Short: "Split a file into the chunks the index would store",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunk,
}

func init() {
	chunkCmd.Flags().StringVar(&chunkMime, "mime", "", "declared MIME type (sniffed when empty)")
	chunkCmd.Flags().BoolVar(&chunkJSON, "json", false, "output chunks as JSON")
	addChunkFlags(chunkCmd)
	rootCmd.AddCommand(chunkCmd)
}

func runChunk(cmd *cobra.Command, args []string) error {
	res, _, err := extractFile(cmd.Context(), args[0], chunkMime)
	if err != nil {
		return fmt.Errorf("extract %s: %w", args[0], err)
	}
	spans := chunker.New(chunker.WithChunkTokens(chunkTokens), chunker.WithOverlapTokens(overlapTokens)).Split(res.Text)

	if chunkJSON {
		data, err := json.MarshalIndent(spans, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal chunks: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(spans) == 0 {
		cmd.Println("No text to chunk.")
		return nil
	}
	for _, s := range spans {
		cmd.Printf("--- chunk %d [%d:%d] ---\n", s.Index, s.Start, s.End)
		cmd.Println(s.Content)
	}
	return nil
}
