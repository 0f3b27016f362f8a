package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cinna/internal/lifecycle"
	"cinna/internal/session"
	"cinna/models"
)

func (a *app) user() (models.User, error) {
	u, ok := a.store.Current()
	if !ok {
		return models.User{}, session.ErrNotAuthenticated
	}
	return u, nil
}

func (a *app) lifecycleOptions() lifecycle.Options {
	return lifecycle.Options{Logger: a.logger}
}

func (a *app) buyer() (*lifecycle.BuyerController, error) {
	if err := a.store.RequireRole(models.RoleBuyer); err != nil {
		return nil, err
	}
	return lifecycle.NewBuyerController(a.api, a.lifecycleOptions()), nil
}

func (a *app) manufacturer() (*lifecycle.ManufacturerController, error) {
	if err := a.store.RequireRole(models.RoleManufacturer); err != nil {
		return nil, err
	}
	u, err := a.user()
	if err != nil {
		return nil, err
	}
	return lifecycle.NewManufacturerController(a.api, u.ID, a.lifecycleOptions()), nil
}

func parseID(s, what string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return id, nil
}

func newTendersCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenders",
		Short: "Browse, create and review tenders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newTendersListCommand(a))
	cmd.AddCommand(newTendersShowCommand(a))
	cmd.AddCommand(newTendersCreateCommand(a))
	cmd.AddCommand(newTendersAnalyzeCommand(a))
	return cmd
}

func newTendersListCommand(a *app) *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenders: open tenders for buyers, own tenders for manufacturers",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, ok := lifecycle.ParseFilter(filter)
			if !ok {
				return fmt.Errorf("unknown filter %q, use all, active or closed", filter)
			}
			u, err := a.user()
			if err != nil {
				return err
			}

			if u.Role == models.RoleManufacturer {
				ctrl, err := a.manufacturer()
				if err != nil {
					return err
				}
				if err := ctrl.Refresh(cmd.Context()); err != nil {
					return err
				}
				printTenders(a, f.Apply(ctrl.MyTenders()), nil)
				printManufacturerStats(a, ctrl.Stats())
				return nil
			}

			ctrl, err := a.buyer()
			if err != nil {
				return err
			}
			if err := ctrl.Refresh(cmd.Context()); err != nil {
				return err
			}
			views := ctrl.Tenders(f)
			tenders := make([]models.Tender, len(views))
			offers := make(map[int]lifecycle.Offer, len(views))
			for i, v := range views {
				tenders[i] = v.Tender
				offers[v.ID] = v.Offer
			}
			printTenders(a, tenders, offers)
			s := ctrl.Stats()
			a.printf("\n%d available, %d active. My bids: %d (%d pending, %d accepted, %d rejected)\n",
				s.Available, s.ActiveTenders, s.MyBids, s.Pending, s.Accepted, s.Rejected)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter, "filter", string(lifecycle.FilterAll), "Status filter: all, active or closed")
	return cmd
}

func printTenders(a *app, tenders []models.Tender, offers map[int]lifecycle.Offer) {
	if len(tenders) == 0 {
		a.printf("No tenders found\n")
		return
	}
	now := time.Now()
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNUMBER\tTITLE\tQUANTITY\tGRADE\tENDS\tSTAGE\tBIDS\tACTION")
	for _, t := range tenders {
		grade := "-"
		if t.QualityGrade != nil {
			grade = string(*t.QualityGrade)
		}
		action := ""
		if offers != nil {
			action = string(offers[t.ID])
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s kg\t%s\t%s\t%s\t%d\t%s\n",
			t.ID, t.TenderNumber, t.Title, t.Quantity, grade, t.EndDate, lifecycle.TenderStage(t, now), t.BidCount, action)
	}
	tw.Flush()
}

func printManufacturerStats(a *app, s lifecycle.ManufacturerStats) {
	a.printf("\n%d tenders: %d active, %d awaiting decision, %d completed (%d%% success)\n",
		s.Total, s.Active, s.Expired, s.Completed, s.SuccessRate)
	a.printf("%d bids in total, %.1f per tender, %d tenders with bids\n", s.TotalBids, s.AverageBids, s.WithBids)
}

func newTendersShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show TENDER_ID",
		Short: "Show a tender with its bids (manufacturer) or your bid (buyer)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "tender")
			if err != nil {
				return err
			}
			u, err := a.user()
			if err != nil {
				return err
			}

			if u.Role == models.RoleManufacturer {
				ctrl, err := a.manufacturer()
				if err != nil {
					return err
				}
				if err := ctrl.Refresh(cmd.Context()); err != nil {
					return err
				}
				if _, err := ctrl.LoadBids(cmd.Context(), id); err != nil {
					return err
				}
				review, ok := ctrl.Review(id)
				if !ok {
					return fmt.Errorf("tender %d not found among your tenders", id)
				}
				printTender(a, review.Tender, review.Stage)
				printReview(a, review)
				return nil
			}

			ctrl, err := a.buyer()
			if err != nil {
				return err
			}
			if err := ctrl.Refresh(cmd.Context()); err != nil {
				return err
			}
			view, ok := ctrl.Tender(id)
			if !ok {
				return fmt.Errorf("tender %d not found", id)
			}
			printTender(a, view.Tender, view.Stage)
			if view.MyBid != nil {
				a.printf("\nYour bid: %s LKR, %s\n  %s\n", view.MyBid.Amount, view.MyBid.Status, view.MyBid.Message)
			}
			switch view.Offer {
			case lifecycle.OfferCreate:
				a.printf("\nPlace a bid with: cinna bids place %d --amount AMOUNT --message TEXT\n", id)
			case lifecycle.OfferEdit:
				a.printf("\nChange your bid with: cinna bids place %d --amount AMOUNT --message TEXT\n", id)
			}
			return nil
		},
	}
}

func printTender(a *app, t models.Tender, stage lifecycle.Stage) {
	a.printf("%s  %s  [%s]\n", t.TenderNumber, t.Title, stage)
	a.printf("  oil type: %s\n  quantity: %s kg\n  bidding:  %s to %s\n", t.OilType, t.Quantity, t.StartDate, t.EndDate)
	if t.QualityGrade != nil {
		score := ""
		if t.QualityScore != nil {
			score = fmt.Sprintf(" (score %.1f)", *t.QualityScore)
		}
		a.printf("  quality:  %s%s\n", *t.QualityGrade, score)
	}
	if t.ReportFile != nil && *t.ReportFile != "" {
		a.printf("  report:   %s\n", a.api.ResolveMediaURL(*t.ReportFile))
	}
	if t.Description != "" {
		a.printf("\n%s\n", t.Description)
	}
}

func printReview(a *app, r lifecycle.Review) {
	if len(r.Bids) == 0 {
		a.printf("\nNo bids yet\n")
		return
	}
	if r.Spread != nil {
		a.printf("\nHighest bid %s LKR, lowest %s LKR\n", r.Spread.Highest, r.Spread.Lowest)
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BID\tBUYER\tCOMPANY\tAMOUNT\tSTATUS\tMESSAGE")
	for _, b := range r.Bids {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", b.ID, b.BuyerName, b.CompanyName, b.Amount, b.Status, b.Message)
	}
	tw.Flush()
	switch {
	case r.Winner != nil:
		a.printf("\nWinner: bid %d from %s\n", r.Winner.ID, r.Winner.BuyerName)
	case r.CanAccept:
		a.printf("\nBidding has ended. Accept a bid with: cinna bids accept %d BID_ID\n", r.Tender.ID)
	}
}

func newTendersCreateCommand(a *app) *cobra.Command {
	var (
		draft   lifecycle.Draft
		report  string
		analyze bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tender with a quality report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.RequireRole(models.RoleManufacturer); err != nil {
				return err
			}
			intake := lifecycle.NewIntake(a.api, a.lifecycleOptions())
			a.printf("Next tender number: %s\n", intake.NextNumber(cmd.Context()))

			if report != "" {
				file, err := readFile(report)
				if err != nil {
					return err
				}
				draft.Report = &file
			}

			var analysis *lifecycle.Analysis
			if analyze && draft.Report != nil {
				res, err := intake.Analyze(cmd.Context(), *draft.Report)
				if err != nil {
					return err
				}
				printAnalysis(a, res)
				analysis = &res
			}

			t, err := intake.Create(cmd.Context(), draft, analysis)
			if err != nil {
				return err
			}
			a.printf("Created tender %s (id %d)\n", t.TenderNumber, t.ID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&draft.Title, "title", "", "Tender title")
	f.StringVar(&draft.OilType, "oil-type", "organic", "Oil type")
	f.StringVar(&draft.Quantity, "quantity", "", "Quantity in kg")
	f.StringVar(&draft.Description, "description", "", "Tender description")
	f.StringVar(&draft.StartDate, "start", "", "Start date YYYY-MM-DD (default today)")
	f.StringVar(&draft.EndDate, "end", "", "End date YYYY-MM-DD")
	f.StringVar(&report, "report", "", "Quality report file (PDF, DOC, XLS, PNG, JPG)")
	f.BoolVar(&analyze, "analyze", true, "Run quality analysis on the report before creating")
	return cmd
}

func newTendersAnalyzeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze REPORT_FILE",
		Short: "Predict the quality grade of a report without creating a tender",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := readFile(args[0])
			if err != nil {
				return err
			}
			res, err := lifecycle.NewIntake(a.api, a.lifecycleOptions()).Analyze(cmd.Context(), file)
			if err != nil {
				return err
			}
			printAnalysis(a, res)
			return nil
		},
	}
}

func printAnalysis(a *app, res lifecycle.Analysis) {
	if res.Prediction == nil {
		a.printf("Quality analysis: %s\n", res.Message)
		return
	}
	a.printf("Quality analysis: grade %s, score %.1f\n", res.Prediction.QualityGrade, res.Prediction.QualityScore)
}
