package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hearthhq/hearth/internal/models"
	syncsvc "github.com/hearthhq/hearth/internal/services/sync"
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Read and modify cached household data",
}

var itemsListCmd = &cobra.Command{
	Use:   "list <type>",
	Short: "List locally cached items of one type",
	Long: `List prints the local cache for an entity type, including optimistic
entries for writes that have not been confirmed by the server yet.

Types: ` + entityTypeList() + `.`,
	Example: `  hearth items list shopping_item`,
	Args:    cobra.ExactArgs(1),
	RunE:    runItemsList,
}

var itemsAddCmd = &cobra.Command{
	Use:   "add <type>",
	Short: "Queue a create for one item",
	Long: `Add records a create locally and queues it for background sync. The
payload is a JSON object whose "id" field becomes the local id.`,
	Example: `  hearth items add shopping_item --data '{"id":"local-1","name":"Milk"}'`,
	Args:    cobra.ExactArgs(1),
	RunE:    runItemsAdd,
}

var itemsRemoveCmd = &cobra.Command{
	Use:     "remove <type> <id>",
	Short:   "Queue a delete for one item",
	Example: `  hearth items remove shopping_item local-1`,
	Args:    cobra.ExactArgs(2),
	RunE:    runItemsRemove,
}

var (
	itemsAddData     string
	itemsRemoveLocal bool
)

func init() {
	rootCmd.AddCommand(itemsCmd)
	itemsCmd.AddCommand(itemsListCmd)
	itemsCmd.AddCommand(itemsAddCmd)
	itemsCmd.AddCommand(itemsRemoveCmd)

	itemsAddCmd.Flags().StringVarP(&itemsAddData, "data", "d", "",
		"Item payload as a JSON object (required)")
	_ = itemsAddCmd.MarkFlagRequired("data")

	itemsRemoveCmd.Flags().BoolVar(&itemsRemoveLocal, "local-id", false,
		"Treat the id as a local id rather than a server id")
}

func parseEntityType(arg string) (models.EntityType, error) {
	for _, entityType := range models.EntityTypes() {
		if string(entityType) == arg {
			return entityType, nil
		}
	}
	return "", fmt.Errorf("unknown entity type %q (valid: %s)", arg, entityTypeList())
}

func entityTypeList() string {
	types := models.EntityTypes()
	names := make([]string, len(types))
	for i, entityType := range types {
		names[i] = string(entityType)
	}
	return strings.Join(names, ", ")
}

func runItemsList(cmd *cobra.Command, args []string) error {
	entityType, err := parseEntityType(args[0])
	if err != nil {
		return err
	}

	items, err := apiClient.Cache.Read(entityType)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(items)
		return nil
	}

	if len(items) == 0 {
		printInfo("No cached %s items", entityType)
		return nil
	}

	for _, item := range items {
		fmt.Fprintln(os.Stdout, string(item))
	}
	return nil
}

func runItemsAdd(cmd *cobra.Command, args []string) error {
	entityType, err := parseEntityType(args[0])
	if err != nil {
		return err
	}

	localID := models.EntityID(json.RawMessage(itemsAddData))
	if localID == "" {
		return fmt.Errorf(`payload must be a JSON object with a non-empty "id"`)
	}

	write, err := apiClient.Sync.Enqueue(syncsvc.WriteRequest{
		EntityType: entityType,
		Operation:  models.OpCreate,
		LocalID:    localID,
		Payload:    json.RawMessage(itemsAddData),
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(write)
	} else {
		printInfo("Queued create %s (%s %s)", write.ID, entityType, localID)
	}
	return nil
}

func runItemsRemove(cmd *cobra.Command, args []string) error {
	entityType, err := parseEntityType(args[0])
	if err != nil {
		return err
	}

	req := syncsvc.WriteRequest{
		EntityType: entityType,
		Operation:  models.OpDelete,
	}
	if itemsRemoveLocal {
		req.LocalID = args[1]
	} else {
		req.LocalID = args[1]
		req.ServerID = args[1]
	}

	write, err := apiClient.Sync.Enqueue(req)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(write)
	} else {
		printInfo("Queued delete %s (%s %s)", write.ID, entityType, args[1])
	}
	return nil
}
