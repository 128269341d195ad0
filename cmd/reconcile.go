package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/climsite/tile-engine/internal/catalog"
	"github.com/climsite/tile-engine/internal/db"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Clean up orphaned vector import markers",
	Long: `Lists pending vector table markers older than the cutoff. These are the
leftovers of imports that died between writing the marker and flipping it to
ready. With --delete, each marker and its physical table (if any) is dropped.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		olderThan, _ := cmd.Flags().GetDuration("older-than")
		doDelete, _ := cmd.Flags().GetBool("delete")

		pool, err := enginePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		store := catalog.NewStore(pool)
		cutoff := time.Now().Add(-olderThan)

		pending, err := store.ListPendingVectorTables(ctx, cutoff)
		if err != nil {
			return eris.Wrap(err, "reconcile")
		}
		if len(pending) == 0 {
			fmt.Println("No orphaned import markers")
			return nil
		}

		for _, vt := range pending {
			fmt.Printf("%-40s layer=%s created=%s\n",
				vt.TableName, vt.LayerID, vt.CreatedAt.Format(time.RFC3339))
			if !doDelete {
				continue
			}

			_, err := pool.Exec(ctx,
				"DROP TABLE IF EXISTS "+db.SanitizeTable("vectordata."+vt.TableName))
			if err != nil {
				return eris.Wrapf(err, "reconcile: drop table %s", vt.TableName)
			}
			if err := store.DeleteVectorTable(ctx, vt.TableName); err != nil {
				return eris.Wrapf(err, "reconcile: delete marker %s", vt.TableName)
			}
			zap.L().Info("removed orphaned import",
				zap.String("table", vt.TableName),
				zap.String("layer", vt.LayerID.String()))
		}

		if doDelete {
			fmt.Printf("Removed %d orphaned imports\n", len(pending))
		} else {
			fmt.Printf("%d orphaned imports (re-run with --delete to remove)\n", len(pending))
		}
		return nil
	},
}

func init() {
	reconcileCmd.Flags().Duration("older-than", 24*time.Hour, "only consider markers older than this")
	reconcileCmd.Flags().Bool("delete", false, "drop the orphaned tables and markers")
	rootCmd.AddCommand(reconcileCmd)
}
