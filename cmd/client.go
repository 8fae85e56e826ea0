package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"simplexbridge/pkg/client"
	"simplexbridge/pkg/config"
	"simplexbridge/pkg/logger"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

const requestTimeout = 30 * time.Second

var (
	bridgeURL    string
	simulateName string
)

var sendCmd = &cobra.Command{
	Use:   "send <contactId> <text...>",
	Short: "Send a message through the bridge",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		contactID, err := parseContactID(args[0])
		if err != nil {
			return err
		}

		c, err := newClient(logger.Discard())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		if err := c.Send(ctx, contactID, strings.Join(args[1:], " ")); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "sent")
		return nil
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate <contactId> <text...>",
	Short: "Inject an inbound message (non-production bridges only)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		contactID, err := parseContactID(args[0])
		if err != nil {
			return err
		}

		c, err := newClient(logger.Discard())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		if err := c.Simulate(ctx, contactID, simulateName, strings.Join(args[1:], " ")); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "simulated")
		return nil
	},
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List the bot's contacts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient(logger.Discard())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		raw, err := c.Contacts(ctx)
		if err != nil {
			return err
		}
		return renderContacts(cmd.OutOrStdout(), raw)
	},
}

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Show the bot's contact address",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient(logger.Discard())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		raw, err := c.Address(ctx)
		if err != nil {
			return err
		}
		return writeIndented(cmd.OutOrStdout(), raw)
	},
}

func init() {
	simulateCmd.Flags().StringVarP(&simulateName, "name", "n", "", "display name of the simulated contact")
	rootCmd.AddCommand(sendCmd, simulateCmd, contactsCmd, addressCmd)
}

// newClient targets --url, falling back to BRIDGE_URL.
func newClient(log *slog.Logger) (*client.Client, error) {
	target := strings.TrimSpace(bridgeURL)
	if target == "" {
		cfg, err := config.LoadClient()
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		target = cfg.BridgeURL
	}
	return client.New(target, log)
}

func parseContactID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid contact id %q", value)
	}
	return id, nil
}

type contactRow struct {
	ContactID        int64  `json:"contactId"`
	LocalDisplayName string `json:"localDisplayName"`
	Profile          struct {
		DisplayName string `json:"displayName"`
		FullName    string `json:"fullName"`
	} `json:"profile"`
}

// renderContacts prints a table when the response carries a contact list and
// the raw JSON otherwise.
func renderContacts(w io.Writer, raw json.RawMessage) error {
	var body struct {
		Contacts []contactRow `json:"contacts"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Contacts == nil {
		return writeIndented(w, raw)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Name", "Display Name", "Full Name"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, c := range body.Contacts {
		table.Append([]string{
			strconv.FormatInt(c.ContactID, 10),
			c.LocalDisplayName,
			c.Profile.DisplayName,
			c.Profile.FullName,
		})
	}
	table.Render()
	return nil
}

func writeIndented(w io.Writer, raw json.RawMessage) error {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	out.WriteByte('\n')
	_, err := out.WriteTo(w)
	return err
}
