package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-mpesa-checkout/internal/config"
	"github.com/tbourn/go-mpesa-checkout/internal/mpesa"
	"github.com/tbourn/go-mpesa-checkout/internal/msisdn"
)

// configExit marks a missing-credential failure so scripts can tell it
// apart from a gateway failure.
type configExit struct{ err error }

func (e configExit) Error() string { return e.err.Error() }
func (e configExit) Unwrap() error { return e.err }
func (configExit) ExitCode() int   { return 2 }

func newClient() (*mpesa.Client, mpesa.Config, error) {
	gw, err := config.LoadMpesa()
	if err != nil {
		return nil, gw, err
	}
	return mpesa.NewClient(gw), gw, nil
}

func checkConfig(err error) error {
	var ce *mpesa.ConfigError
	if errors.As(err, &ce) {
		return configExit{err: fmt.Errorf("configuration incomplete, missing %s", strings.Join(ce.Missing, ", "))}
	}
	return err
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Fetch an OAuth access token",
		Long: `Request a client-credentials token from the configured environment.
Succeeds only if MPESA_CONSUMER_KEY and MPESA_CONSUMER_SECRET (or their aliases) are valid.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, gw, err := newClient()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "environment: %s (%s)\n", valueOrDefault(gw.Environment, "sandbox"), gw.ResolvedBaseURL())

			start := time.Now()
			tok, err := c.AccessToken(cmd.Context())
			if err != nil {
				return checkConfig(describe(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token:       %s (%s)\n", mask(tok.AccessToken), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func pushCmd() *cobra.Command {
	var (
		phone       string
		amount      int64
		reference   string
		callbackURL string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Send a test STK push",
		Long: `Send a real STK push to a phone. The customer is prompted; use a small amount.

Examples:
  mpesactl push --phone 0712345678 --amount 1 --reference TEST-1
  mpesactl push --phone 254712345678 --amount 1 --reference TEST-2 --callback-url https://shop.example/api/mpesa/callback`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, gw, err := newClient()
			if err != nil {
				return err
			}
			if err := c.Ready(); err != nil {
				return checkConfig(err)
			}

			p, ok := msisdn.Normalize(phone)
			if !ok {
				return fmt.Errorf("invalid phone %q", phone)
			}
			if amount <= 0 {
				return errors.New("amount must be positive")
			}
			cb := valueOrDefault(callbackURL, gw.CallbackURL)
			if cb == "" {
				return errors.New("no callback URL: pass --callback-url or set MPESA_CALLBACK_URL")
			}

			ctx := cmd.Context()
			tok, err := c.AccessToken(ctx)
			if err != nil {
				return checkConfig(describe(err))
			}
			res, err := c.Push(ctx, tok, mpesa.PushRequest{
				Phone:       p,
				Amount:      amount,
				Reference:   reference,
				CallbackURL: cb,
			})
			if err != nil {
				return describe(err)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "accepted:            %v\n", res.Accepted())
			fmt.Fprintf(out, "response:            %s %s\n", res.ResponseCode, res.ResponseDescription)
			fmt.Fprintf(out, "checkout request id: %s\n", res.CheckoutRequestID)
			fmt.Fprintf(out, "merchant request id: %s\n", res.MerchantRequestID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&phone, "phone", "p", "", "customer phone (07..., 01..., 254..., +254...)")
	cmd.Flags().Int64VarP(&amount, "amount", "a", 1, "amount in KES")
	cmd.Flags().StringVarP(&reference, "reference", "r", "TEST", "account reference (first 12 characters are sent)")
	cmd.Flags().StringVar(&callbackURL, "callback-url", "", "callback URL (defaults to MPESA_CALLBACK_URL)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func queryCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "query [checkoutRequestId]",
		Short: "Query the gateway for a push's outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			if err := c.Ready(); err != nil {
				return checkConfig(err)
			}
			ctx := cmd.Context()
			tok, err := c.AccessToken(ctx)
			if err != nil {
				return checkConfig(describe(err))
			}
			res, err := c.Query(ctx, tok, strings.TrimSpace(args[0]))
			if err != nil {
				return describe(err)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "result: %s %s\n", res.ResultCode, res.ResultDesc)
			fmt.Fprintf(out, "status: %s\n", mpesa.QueryStatus(res.ResultCode))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// describe adds the gateway's error body to HTTP failures.
func describe(err error) error {
	var he *mpesa.HTTPError
	if errors.As(err, &he) && len(he.Body) > 0 {
		b, _ := json.Marshal(he.Body)
		return fmt.Errorf("%w: %s", err, b)
	}
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func mask(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

func valueOrDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
