package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli"

	"github.com/freedomlayer/offset-sub002/frontend"
)

// printJSON mirrors cmd/lncli/commands.go's helper of the same name:
// indent and write a response to stdout.
func printJSON(resp interface{}) {
	b, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(b))
}

func decodeHexArg(ctx *cli.Context, name string) ([]byte, error) {
	s := ctx.Args().First()
	if ctx.IsSet(name) {
		s = ctx.String(name)
	}
	return hex.DecodeString(s)
}

var addFriendCommand = cli.Command{
	Name:      "addfriend",
	Usage:     "Add a new friend relationship.",
	ArgsUsage: "public_key name",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "name", Usage: "a local label for this friend"},
	},
	Action: func(ctx *cli.Context) error {
		client, cleanUp := getClient(ctx)
		defer cleanUp()

		pk, err := decodeHexArg(ctx, "public_key")
		if err != nil {
			return fmt.Errorf("decoding public_key: %v", err)
		}
		name := ctx.String("name")
		if name == "" && ctx.Args().Get(1) != "" {
			name = ctx.Args().Get(1)
		}

		resp, err := client.AddFriend(context.Background(), &frontend.AddFriendRequest{
			PublicKey: pk,
			Name:      name,
		})
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var openFriendCurrencyCommand = cli.Command{
	Name:      "openfriendcurrency",
	Usage:     "Open a currency on an existing friend's token channel.",
	ArgsUsage: "public_key currency",
	Action: func(ctx *cli.Context) error {
		client, cleanUp := getClient(ctx)
		defer cleanUp()

		pk, err := hex.DecodeString(ctx.Args().First())
		if err != nil {
			return fmt.Errorf("decoding public_key: %v", err)
		}
		resp, err := client.OpenFriendCurrency(context.Background(), &frontend.OpenFriendCurrencyRequest{
			PublicKey: pk,
			Currency:  ctx.Args().Get(1),
		})
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var setFriendCurrencyMaxDebtCommand = cli.Command{
	Name:      "setmaxdebt",
	Usage:     "Set the maximum debt this node grants a friend in a currency.",
	ArgsUsage: "public_key currency max_debt",
	Action: func(ctx *cli.Context) error {
		client, cleanUp := getClient(ctx)
		defer cleanUp()

		pk, err := hex.DecodeString(ctx.Args().First())
		if err != nil {
			return fmt.Errorf("decoding public_key: %v", err)
		}
		resp, err := client.SetFriendCurrencyMaxDebt(context.Background(), &frontend.SetFriendCurrencyMaxDebtRequest{
			PublicKey: pk,
			Currency:  ctx.Args().Get(1),
			MaxDebt:   ctx.Args().Get(2),
		})
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var addInvoiceCommand = cli.Command{
	Name:      "addinvoice",
	Usage:     "Add a new invoice, expressing intent for a future payment.",
	ArgsUsage: "invoice_id currency total_dest_payment",
	Action: func(ctx *cli.Context) error {
		client, cleanUp := getClient(ctx)
		defer cleanUp()

		invoiceId, err := hex.DecodeString(ctx.Args().First())
		if err != nil {
			return fmt.Errorf("decoding invoice_id: %v", err)
		}
		resp, err := client.AddInvoice(context.Background(), &frontend.AddInvoiceRequest{
			InvoiceId:        invoiceId,
			Currency:         ctx.Args().Get(1),
			TotalDestPayment: ctx.Args().Get(2),
		})
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var commitInvoiceCommand = cli.Command{
	Name:      "commitinvoice",
	Usage:     "Commit a fully-paid invoice, signing a response for every leg parked against it.",
	ArgsUsage: "invoice_id",
	Action: func(ctx *cli.Context) error {
		client, cleanUp := getClient(ctx)
		defer cleanUp()

		invoiceId, err := hex.DecodeString(ctx.Args().First())
		if err != nil {
			return fmt.Errorf("decoding invoice_id: %v", err)
		}
		resp, err := client.CommitInvoice(context.Background(), &frontend.InvoiceIdRequest{InvoiceId: invoiceId})
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var cancelInvoiceCommand = cli.Command{
	Name:      "cancelinvoice",
	Usage:     "Cancel an invoice, unwinding any legs parked against it.",
	ArgsUsage: "invoice_id",
	Action: func(ctx *cli.Context) error {
		client, cleanUp := getClient(ctx)
		defer cleanUp()

		invoiceId, err := hex.DecodeString(ctx.Args().First())
		if err != nil {
			return fmt.Errorf("decoding invoice_id: %v", err)
		}
		resp, err := client.CancelInvoice(context.Background(), &frontend.InvoiceIdRequest{InvoiceId: invoiceId})
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var requestSendFundsCommand = cli.Command{
	Name:      "sendfunds",
	Usage:     "Request a single-leg payment toward an invoice over an explicit route.",
	ArgsUsage: "payment_id destination invoice_id total_dest_payment currency route...",
	Description: `
	route... is a comma-separated list of hex public keys, starting with
	the local node's first hop and ending with destination -- a single
	leg is sent; multi-route payments aren't exposed by this CLI yet.`,
	Flags: []cli.Flag{
		cli.StringFlag{Name: "left-fees", Value: "0", Usage: "fee budget for this leg"},
	},
	Action: func(ctx *cli.Context) error {
		client, cleanUp := getClient(ctx)
		defer cleanUp()

		args := ctx.Args()
		if len(args) < 6 {
			return fmt.Errorf("usage: %s", requestSendFundsCommand.ArgsUsage)
		}

		paymentId, err := hex.DecodeString(args[0])
		if err != nil {
			return fmt.Errorf("decoding payment_id: %v", err)
		}
		destination, err := hex.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("decoding destination: %v", err)
		}
		invoiceId, err := hex.DecodeString(args[2])
		if err != nil {
			return fmt.Errorf("decoding invoice_id: %v", err)
		}
		totalDestPayment := args[3]
		currency := args[4]

		var route [][]byte
		for _, hexHop := range splitRoute(args[5]) {
			hop, err := hex.DecodeString(hexHop)
			if err != nil {
				return fmt.Errorf("decoding route hop %q: %v", hexHop, err)
			}
			route = append(route, hop)
		}

		resp, err := client.RequestSendFunds(context.Background(), &frontend.RequestSendFundsRequest{
			PaymentId:        paymentId,
			Destination:      destination,
			InvoiceId:        invoiceId,
			TotalDestPayment: totalDestPayment,
			Legs: []*frontend.RouteLeg{{
				Currency:    currency,
				Route:       route,
				DestPayment: totalDestPayment,
				LeftFees:    ctx.String("left-fees"),
			}},
		})
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var paymentStatusCommand = cli.Command{
	Name:      "paymentstatus",
	Usage:     "Look up the status of a locally-originated payment.",
	ArgsUsage: "payment_id",
	Action: func(ctx *cli.Context) error {
		client, cleanUp := getClient(ctx)
		defer cleanUp()

		paymentId, err := hex.DecodeString(ctx.Args().First())
		if err != nil {
			return fmt.Errorf("decoding payment_id: %v", err)
		}
		resp, err := client.PaymentStatus(context.Background(), &frontend.PaymentStatusRequest{PaymentId: paymentId})
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

// splitRoute splits a comma-separated route argument; kept as a
// one-line helper since strings.Split alone would make every call site
// repeat the "route" naming context.
func splitRoute(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
