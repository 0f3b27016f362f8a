package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cinna/internal/lifecycle"
)

func newBidsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bids",
		Short: "Place and accept bids",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newBidsListCommand(a))
	cmd.AddCommand(newBidsPlaceCommand(a))
	cmd.AddCommand(newBidsAcceptCommand(a))
	return cmd
}

func newBidsListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your bids",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := a.buyer()
			if err != nil {
				return err
			}
			if err := ctrl.Refresh(cmd.Context()); err != nil {
				return err
			}
			bids := ctrl.MyBids()
			if len(bids) == 0 {
				a.printf("You have not placed any bids\n")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BID\tTENDER\tAMOUNT\tSTATUS\tMESSAGE")
			for _, b := range bids {
				number := fmt.Sprint(b.TenderID.Int())
				if v, ok := ctrl.Tender(b.TenderID.Int()); ok {
					number = v.TenderNumber
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", b.ID, number, b.Amount, b.Status, b.Message)
			}
			return tw.Flush()
		},
	}
}

func newBidsPlaceCommand(a *app) *cobra.Command {
	var form lifecycle.BidForm

	cmd := &cobra.Command{
		Use:   "place TENDER_ID",
		Short: "Place a bid on an open tender, or change your pending bid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenderID, err := parseID(args[0], "tender")
			if err != nil {
				return err
			}
			ctrl, err := a.buyer()
			if err != nil {
				return err
			}
			if err := ctrl.Refresh(cmd.Context()); err != nil {
				return err
			}
			_, existed := ctrl.MyBid(tenderID)
			bid, err := ctrl.SubmitBid(cmd.Context(), tenderID, form)
			if err != nil {
				return err
			}
			if existed {
				a.printf("Bid %d updated: %s LKR\n", bid.ID, bid.Amount)
			} else {
				a.printf("Bid %d placed: %s LKR\n", bid.ID, bid.Amount)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&form.Amount, "amount", "", "Bid amount in LKR")
	cmd.Flags().StringVar(&form.Message, "message", "", "Message to the manufacturer")
	return cmd
}

func newBidsAcceptCommand(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "accept TENDER_ID BID_ID",
		Short: "Accept the winning bid of an expired tender",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenderID, err := parseID(args[0], "tender")
			if err != nil {
				return err
			}
			bidID, err := parseID(args[1], "bid")
			if err != nil {
				return err
			}
			ctrl, err := a.manufacturer()
			if err != nil {
				return err
			}
			if err := ctrl.Refresh(cmd.Context()); err != nil {
				return err
			}

			confirm := lifecycle.Confirmer(a.confirm)
			if yes {
				confirm = func(string) bool { return true }
			}
			bid, err := ctrl.AcceptBid(cmd.Context(), tenderID, bidID, confirm)
			if errors.Is(err, lifecycle.ErrNotConfirmed) {
				a.printf("Cancelled\n")
				return nil
			}
			if err != nil {
				return err
			}
			a.printf("Bid %d accepted. The tender is now closed and all other bids were rejected.\n", bid.ID)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}
