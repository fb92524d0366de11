package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"om-smart-go/internal/model"
	"om-smart-go/internal/render"
)

var (
	renderValues   string
	renderOut      string
	renderFormats  []string
	renderTitle    string
	renderBanner   string
	renderPageSize string
)

var renderCmd = &cobra.Command{
	Use:   "render [template.md]",
	Short: "Render a template body with fixed values into PDF and DOCX",
	Long: `Substitutes {{name}} placeholders from a JSON object of name -> value
and writes the declared artifacts to the output directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVar(&renderValues, "values", "", "JSON file with an object of variable values")
	renderCmd.Flags().StringVar(&renderOut, "out", ".", "output directory")
	renderCmd.Flags().StringSliceVar(&renderFormats, "formats", []string{model.FormatPDF, model.FormatDOCX}, "output formats")
	renderCmd.Flags().StringVar(&renderTitle, "title", "Offering Memorandum", "cover title")
	renderCmd.Flags().StringVar(&renderBanner, "banner", "CONFIDENTIAL", "cover and footer banner")
	renderCmd.Flags().StringVar(&renderPageSize, "page-size", "A4", "page size")
	rootCmd.AddCommand(renderCmd)
}

func loadValues(path string) ([]model.ResolvedValue, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	values := make([]model.ResolvedValue, 0, len(names))
	for _, name := range names {
		values = append(values, model.ResolvedValue{Name: name, Value: m[name]})
	}
	return values, nil
}

func runRender(cmd *cobra.Command, args []string) error {
	body, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	values, err := loadValues(renderValues)
	if err != nil {
		return err
	}
	formats := make([]string, 0, len(renderFormats))
	for _, f := range renderFormats {
		formats = append(formats, strings.ToLower(strings.TrimSpace(f)))
	}

	cover := render.Cover{
		Title:    renderTitle,
		Subtitle: "Confidential Offering Memorandum",
		Banner:   renderBanner,
		Date:     time.Now().Format("January 2006"),
	}
	art, err := render.New(renderPageSize, 20).Render(cover, string(body), values, formats)
	if err != nil {
		return err
	}
	if left := render.Placeholders(art.Body); len(left) > 0 {
		cmd.Printf("warning: unresolved placeholders: %s\n", strings.Join(left, ", "))
	}

	if err := os.MkdirAll(renderOut, 0o755); err != nil {
		return err
	}
	base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	outputs := map[string][]byte{model.FormatPDF: art.PDF, model.FormatDOCX: art.DOCX}
	outlines := map[string]render.Outline{model.FormatPDF: art.PDFOutline, model.FormatDOCX: art.DOCXOutline}
	for _, f := range formats {
		path := filepath.Join(renderOut, base+"."+f)
		if err := os.WriteFile(path, outputs[f], 0o644); err != nil {
			return err
		}
		o := outlines[f]
		cmd.Printf("%s: %d bytes, %d headings, %d bullets, %d numbered, %d paragraphs\n",
			path, len(outputs[f]), len(o.Headings), o.Bullets, o.Numbered, o.Paragraphs)
	}
	return nil
}
