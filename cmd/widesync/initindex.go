package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wideorder/widesync/internal/estore"
)

var initIndexRecreate bool

var initIndexCmd = &cobra.Command{
	Use:   "init-index",
	Short: "Create the primary and side indexes with their mappings",
	Long: `One-time administrative step: create the wide-document index (nested
mappings for the nine satellite fields, lenient date formats) plus the
operating and custspecialconfig side indexes. Existing indexes are left
untouched unless --recreate drops and rebuilds them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := estore.New(estore.Config{
			Addr:     cfg.Target.URL(),
			Username: cfg.Target.User,
			Password: cfg.Target.Password,
			Index:    cfg.Target.IndexName,
		})
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.EnsureIndexes(cmd.Context(), initIndexRecreate); err != nil {
			return err
		}
		log.Info("indexes ready")
		return nil
	},
}

func init() {
	initIndexCmd.Flags().BoolVar(&initIndexRecreate, "recreate", false, "Drop and rebuild existing indexes (destroys data)")
}
