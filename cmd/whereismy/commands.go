package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/whereismy/internal/catalog"
	"github.com/kalambet/whereismy/internal/config"
	"github.com/kalambet/whereismy/internal/storage"
)

// --- ads ---

var adsCmd = &cobra.Command{
	Use:   "ads",
	Short: "Moderate ads on a running server",
}

var adsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ads, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), adsListPath(status, kind, limit, offset))
		if err != nil {
			return err
		}
		var ads []storage.Ad
		if err := decodeJSON(resp, &ads); err != nil {
			return err
		}

		if asJSON {
			return printJSON(os.Stdout, ads)
		}
		if len(ads) == 0 {
			fmt.Println("No ads found.")
			return nil
		}
		for _, ad := range ads {
			fmt.Println(formatAdLine(ad))
		}
		return nil
	},
}

func adsListPath(status, kind string, limit, offset int) string {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if kind != "" {
		q.Set("kind", kind)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if len(q) == 0 {
		return "/ads"
	}
	return "/ads?" + q.Encode()
}

// formatAdLine renders one ad as a single listing row.
func formatAdLine(ad storage.Ad) string {
	desc := ad.Description
	if r := []rune(desc); len(r) > 40 {
		desc = string(r[:40]) + "..."
	}
	return fmt.Sprintf("%s  %-8s  %-5s  %-12s  %-24s  %s",
		colorize(colorCyan, fmt.Sprintf("#%-5d", ad.ID)),
		statusLabel(string(ad.Status)),
		ad.Kind,
		ad.Category,
		ad.LocationKey,
		desc,
	)
}

var adsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single ad as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAdID(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/ads/%d", id))
		if err != nil {
			return err
		}
		var ad any
		if err := decodeJSON(resp, &ad); err != nil {
			return err
		}
		return printJSON(os.Stdout, ad)
	},
}

var adsArchiveCmd = &cobra.Command{
	Use:   "archive <id>",
	Short: "Archive an active ad regardless of owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAdID(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), fmt.Sprintf("/ads/%d/archive", id), nil)
		if err != nil {
			return err
		}
		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Archived ad %d", id)
		return nil
	},
}

var adsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Permanently delete an ad",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAdID(args[0])
		if err != nil {
			return err
		}
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This permanently deletes ad %d. Use --confirm to proceed.", id)
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), fmt.Sprintf("/ads/%d", id))
		if err != nil {
			return err
		}
		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted ad %d", id)
		return nil
	},
}

func parseAdID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid ad id %q", s)
	}
	return id, nil
}

func init() {
	adsListCmd.Flags().String("status", "", "filter by status (active, archived)")
	adsListCmd.Flags().String("kind", "", "filter by kind (found, lost)")
	adsListCmd.Flags().Int("limit", 50, "maximum number of ads to list")
	adsListCmd.Flags().Int("offset", 0, "number of ads to skip")
	adsListCmd.Flags().Bool("json", false, "print raw JSON")
	adsDeleteCmd.Flags().Bool("confirm", false, "confirm deletion")

	adsCmd.AddCommand(adsListCmd)
	adsCmd.AddCommand(adsShowCmd)
	adsCmd.AddCommand(adsArchiveCmd)
	adsCmd.AddCommand(adsDeleteCmd)
}

// --- catalog ---

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Print the categories and locations the bot accepts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cat, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		printCatalog(os.Stdout, cat)
		return nil
	},
}

func printCatalog(w io.Writer, cat *catalog.Catalog) {
	fmt.Fprintln(w, colorize(colorBold, "Categories"))
	for _, c := range cat.Categories {
		fmt.Fprintf(w, "  %s\n", c)
	}
	fmt.Fprintln(w, colorize(colorBold, "Locations"))
	for _, l := range cat.Locations {
		if l.Address != "" {
			fmt.Fprintf(w, "  %s (%s)\n", l.Name, l.Address)
		} else {
			fmt.Fprintf(w, "  %s\n", l.Name)
		}
	}
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Don't remember:"), cat.DontRemember)
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Skip:"), cat.Skip)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		printStatus("File", "%s", config.FilePath())
		for _, k := range config.ShowAll(cfg) {
			src := colorize(colorDim, "("+k.EnvVar+")")
			if k.FromEnv {
				src = colorize(colorYellow, "(set by "+k.EnvVar+")")
			}
			fmt.Printf("  %s = %s %s\n", colorize(colorBold, k.Key), k.Value, src)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
