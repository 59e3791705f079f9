package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetforge/fleetforge/pkg/client"
	"github.com/fleetforge/fleetforge/pkg/model"
)

var templateCmd = &cobra.Command{
	Use:     "template",
	Aliases: []string{"templates", "tpl"},
	Short:   "Manage VM templates (including Container-VM / Function-VM recipes)",
}

var templateCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a template",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		vcpu, _ := cmd.Flags().GetInt("vcpu")
		memMiB, _ := cmd.Flags().GetInt("mem-mib")
		kernelRef, _ := cmd.Flags().GetString("kernel-ref")
		rootfsRef, _ := cmd.Flags().GetString("rootfs-ref")
		kind, _ := cmd.Flags().GetString("kind")

		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		t, err := c.CreateTemplate(ctx, client.CreateTemplateRequest{
			Name:      name,
			VCPU:      vcpu,
			MemMiB:    memMiB,
			KernelRef: kernelRef,
			RootfsRef: rootfsRef,
			Kind:      model.TemplateKind(kind),
		})
		if err != nil {
			return fmt.Errorf("failed to create template: %w", err)
		}
		fmt.Printf("Template created: %s (%s)\n", t.ID, t.Name)
		return nil
	},
}

var templateListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		ts, err := c.ListTemplates(ctx)
		if err != nil {
			return fmt.Errorf("failed to list templates: %w", err)
		}
		if len(ts) == 0 {
			fmt.Println("No templates found")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tKIND\tVCPU\tMEM MIB")
		for _, t := range ts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", t.ID, t.Name, t.Kind, t.VCPU, t.MemMiB)
		}
		return w.Flush()
	},
}

var templateDeleteCmd = &cobra.Command{
	Use:     "delete [id]",
	Aliases: []string{"rm"},
	Short:   "Delete a template",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkAPIKey(); err != nil {
			return err
		}
		c := client.NewClient(baseURL, apiKey)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := c.DeleteTemplate(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete template: %w", err)
		}
		fmt.Printf("Template %s deleted\n", args[0])
		return nil
	},
}

func init() {
	templateCreateCmd.Flags().String("name", "", "template name")
	templateCreateCmd.Flags().Int("vcpu", 1, "vCPU count")
	templateCreateCmd.Flags().Int("mem-mib", 256, "memory in MiB")
	templateCreateCmd.Flags().String("kernel-ref", "", "kernel image id")
	templateCreateCmd.Flags().String("rootfs-ref", "", "rootfs image id")
	templateCreateCmd.Flags().String("kind", "vm", "vm|container-vm|function-vm")

	templateCmd.AddCommand(templateCreateCmd, templateListCmd, templateDeleteCmd)
}
