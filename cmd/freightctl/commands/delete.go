package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

var deleteYes bool

var deleteCmd = &cobra.Command{
	Use:   "delete <app/version/platform/filename>",
	Short: "Delete an artifact",
	Long: `Delete an artifact from the store.

This action is irreversible. You will be prompted for confirmation
unless --yes is specified.

Examples:
  freightctl delete myapp/1.4.2/linux-x86_64/myapp.tar.gz --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Skip confirmation prompt")
}

func runDelete(cmd *cobra.Command, args []string) error {
	coord, err := parseCoordinate(args[0])
	if err != nil {
		return err
	}

	if !deleteYes {
		confirmed, err := confirm(fmt.Sprintf("Delete artifact '%s'?", args[0]))
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("Aborted.")
			return nil
		}
	}

	ctx := context.Background()
	c, err := dialClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	existed, err := c.Delete(ctx, coord)
	if err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}

	if existed {
		fmt.Printf("Deleted %s\n", args[0])
	} else {
		fmt.Printf("%s does not exist, nothing deleted\n", args[0])
	}
	return nil
}

// confirm prompts for a yes/no answer, defaulting to no. Ctrl+C and "n"
// both decline.
func confirm(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     fmt.Sprintf("%s [y/N]", label),
		IsConfirm: true,
	}

	_, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
