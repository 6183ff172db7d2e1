package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wideorder/widesync/internal/estore"
)

var (
	statusLabel = lipgloss.NewStyle().Bold(true).Width(18)
	statusOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	statusWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	statusBad   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkpoint, backfill trigger, and store health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		printRow("config", cfg.Path)
		if cfg.Binlog.LogFile != "" {
			printRow("checkpoint", fmt.Sprintf("%s:%d", cfg.Binlog.LogFile, cfg.Binlog.LogPos))
		} else {
			printRow("checkpoint", statusWarn.Render("none"))
		}
		if cfg.Binlog.InitTime != "" {
			printRow("backfill", statusWarn.Render("pending from "+cfg.Binlog.InitTime))
		} else {
			printRow("backfill", "not scheduled")
		}

		store, err := estore.New(estore.Config{
			Addr:     cfg.Target.URL(),
			Username: cfg.Target.User,
			Password: cfg.Target.Password,
			Index:    cfg.Target.IndexName,
		})
		if err != nil {
			printRow("store", statusBad.Render("unreachable: "+err.Error()))
			return nil
		}
		defer store.Close()
		printRow("store", statusOK.Render(cfg.Target.URL()))

		for _, index := range []string{cfg.Target.IndexName, estore.SideIndexOperating, estore.SideIndexCustConfig} {
			n, err := store.Count(cmd.Context(), index)
			if err != nil {
				printRow("  "+index, statusBad.Render("error: "+err.Error()))
				continue
			}
			printRow("  "+index, strconv.FormatInt(n, 10)+" docs")
		}
		return nil
	},
}

func printRow(label, value string) {
	fmt.Println(statusLabel.Render(label) + value)
}
