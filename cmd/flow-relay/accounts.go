package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/omarluq/flow-relay/internal/config"
	"github.com/omarluq/flow-relay/internal/proxy"
	"github.com/omarluq/flow-relay/internal/version"
)

// adminKeyEnv overrides the admin key taken from the config file.
const adminKeyEnv = "FLOW_RELAY_ADMIN_KEY"

var (
	adminKey       string
	addConcurrency int
	addInactive    bool
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage pooled accounts on a running server",
	Long: `Manage the account pool of a running flow-relay server through its
admin API. The admin key comes from --admin-key, $FLOW_RELAY_ADMIN_KEY or the
first server.admin_keys entry of the config file.`,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newAdminClientFromConfig()
		if err != nil {
			return err
		}
		return c.list(cmd.Context(), cmd.OutOrStdout())
	},
}

var accountsAddCmd = &cobra.Command{
	Use:   "add <session-token>",
	Short: "Add an account by session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAdminClientFromConfig()
		if err != nil {
			return err
		}
		return c.add(cmd.Context(), cmd.OutOrStdout(), proxy.AddAccountRequest{
			SessionToken:   args[0],
			MaxConcurrency: addConcurrency,
			Inactive:       addInactive,
		})
	},
}

func init() {
	accountsCmd.PersistentFlags().StringVar(&adminKey, "admin-key", "", "admin API key")
	accountsAddCmd.Flags().IntVar(&addConcurrency, "max-concurrency", 0, "per-account ceiling (0 uses the pool default)")
	accountsAddCmd.Flags().BoolVar(&addInactive, "inactive", false, "add the account deactivated")

	accountsCmd.AddCommand(accountsListCmd, accountsAddCmd)
	for _, action := range []string{"activate", "deactivate", "unban", "delete"} {
		accountsCmd.AddCommand(newAccountActionCmd(action))
	}
	rootCmd.AddCommand(accountsCmd)
}

func newAccountActionCmd(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>",
		Short: "Run " + action + " on an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid account id %q: %w", args[0], err)
			}
			c, err := newAdminClientFromConfig()
			if err != nil {
				return err
			}
			return c.action(cmd.Context(), cmd.OutOrStdout(), action, id)
		},
	}
}

// adminClient talks to the /admin API of a running server.
type adminClient struct {
	http    *http.Client
	baseURL string
	key     string
}

func newAdminClient(baseURL, key string) *adminClient {
	return &adminClient{
		http:    &http.Client{Timeout: 2 * time.Minute},
		baseURL: baseURL,
		key:     key,
	}
}

func newAdminClientFromConfig() (*adminClient, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	key := pickAdminKey(adminKey, os.Getenv(adminKeyEnv), cfg.Server.AdminKeys)
	if key == "" {
		return nil, fmt.Errorf("no admin key: pass --admin-key, set %s or configure server.admin_keys", adminKeyEnv)
	}
	return newAdminClient("http://"+cfg.Server.GetListen(), key), nil
}

// pickAdminKey returns the flag value, then the env value, then the first
// non-empty configured key.
func pickAdminKey(flag, env string, configured []string) string {
	return lo.CoalesceOrEmpty(append([]string{flag, env}, configured...)...)
}

func (c *adminClient) list(ctx context.Context, out io.Writer) error {
	body, err := c.do(ctx, http.MethodGet, "/admin/accounts", nil)
	if err != nil {
		return err
	}

	var accounts []proxy.AccountView
	if err := json.Unmarshal([]byte(gjson.GetBytes(body, "accounts").Raw), &accounts); err != nil {
		return fmt.Errorf("failed to decode accounts: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tSTATUS\tBAN\tIN FLIGHT\tCREDITS\tTIER")
	for i := range accounts {
		a := &accounts[i]
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d/%d\t%d\t%s\n",
			a.ID, a.Email, a.Status, a.BanState, a.InFlight, a.Ceiling, a.Credits, a.PaygateTier)
	}
	return tw.Flush()
}

func (c *adminClient) add(ctx context.Context, out io.Writer, req proxy.AddAccountRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	body, err := c.do(ctx, http.MethodPost, "/admin/accounts", payload)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ added account %d (%s)\n",
		gjson.GetBytes(body, "id").Int(), gjson.GetBytes(body, "email").String())
	return nil
}

func (c *adminClient) action(ctx context.Context, out io.Writer, action string, id int64) error {
	path := "/admin/accounts/" + strconv.FormatInt(id, 10)
	method := http.MethodPost
	if action == "delete" {
		method = http.MethodDelete
	} else {
		path += "/" + action
	}

	if _, err := c.do(ctx, method, path, nil); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ %s account %d\n", action, id)
	return nil
}

// do sends one admin request and returns the body of a 2xx response. Error
// responses are reported with their message.
func (c *adminClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var reqBody io.Reader = http.NoBody
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.key)
	req.Header.Set("User-Agent", version.UserAgent())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("admin API not reachable: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read admin response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("admin API %s %s: %d %s", method, path, resp.StatusCode, msg)
	}
	return body, nil
}
