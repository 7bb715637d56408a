package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TrixieAM/MyHubCares---90-sub003/internal/api"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/appointment"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/availability"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/calendar"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/config"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/logging"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/notification"
	"github.com/TrixieAM/MyHubCares---90-sub003/internal/session"
)

// app is the wired-up scheduling core behind every command.
type app struct {
	cfg      config.Config
	client   *api.Client
	session  *session.Session
	feed     *notification.Feed
	listener *notification.Listener
	confirm  appointment.ConfirmFunc
}

// boot loads config, builds the core and resolves the acting identity.
func boot(ctx context.Context, autoConfirm bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("PORTAL_API_TOKEN is not set; run `portal login` first")
	}

	log := logging.New(cfg.Env, "portal")

	sctx := session.NewContext(cfg.APIToken, nil)
	client := api.NewClient(cfg.APIBaseURL, sctx.Token, cfg.HTTPTimeout, log)

	confirm := promptConfirm
	if autoConfirm {
		confirm = func(string) bool { return true }
	}

	resolver := availability.NewResolver(client, log)
	store := appointment.NewStore(client, session.Precheck(resolver), confirm, log)
	view := calendar.NewView(time.Now)
	sess := session.New(sctx, client, store, resolver, view, log)
	feed := notification.NewFeed(client, log)
	listener := notification.NewListener(cfg.PushURL, sctx.Token, feed, log)

	if err := sess.Start(ctx); err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		client:   client,
		session:  sess,
		feed:     feed,
		listener: listener,
		confirm:  confirm,
	}, nil
}

func promptConfirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// newLoginCmd exchanges a user id for a dev bearer token.
func newLoginCmd() *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain a dev bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logging.New(cfg.Env, "portal")
			client := api.NewClient(cfg.APIBaseURL, nil, cfg.HTTPTimeout, log)

			token, err := client.Login(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Println("export PORTAL_API_TOKEN=" + token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "portal user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newCalendarCmd() *cobra.Command {
	var month string
	var facilityID int64

	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Show the month grid with appointment and availability tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := boot(cmd.Context(), false)
			if err != nil {
				return err
			}
			if facilityID != 0 {
				a.session.SetFacility(facilityID)
			}
			if month != "" {
				if err := navigateTo(a.session, month); err != nil {
					return err
				}
			}

			renderGrid(a.session)
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "month to show, YYYY-MM")
	cmd.Flags().Int64Var(&facilityID, "facility", 0, "facility filter for availability")
	return cmd
}

// navigateTo steps the view month by month until it shows the target.
func navigateTo(s *session.Session, month string) error {
	target, err := time.Parse("2006-01", month)
	if err != nil {
		return fmt.Errorf("invalid month %q, want YYYY-MM", month)
	}
	want := calendar.MonthOf(target)
	for i := 0; i < 120 && s.View().Month() != want; i++ {
		direction := 1
		cur := s.View().Month()
		if cur.Year > want.Year || (cur.Year == want.Year && cur.Month > want.Month) {
			direction = -1
		}
		s.Navigate(direction)
	}
	return nil
}

func renderGrid(s *session.Session) {
	m := s.View().Month()
	fmt.Printf("%d-%02d\n", m.Year, m.Month)
	fmt.Println("Sun  Mon  Tue  Wed  Thu  Fri  Sat")

	col := 0
	for _, cell := range s.Grid() {
		if cell.Day == 0 {
			fmt.Print("     ")
		} else {
			marker := " "
			if cell.Appointments.Count > 0 {
				marker = "*"
			}
			fmt.Printf("%3d%s ", cell.Day, marker)
		}
		col++
		if col%7 == 0 {
			fmt.Println()
		}
	}
	if col%7 != 0 {
		fmt.Println()
	}
}

func newAppointmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "appointments",
		Short: "List upcoming appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := boot(cmd.Context(), false)
			if err != nil {
				return err
			}

			upcoming := a.session.Store().Upcoming(time.Now())
			if len(upcoming) == 0 {
				fmt.Println("No upcoming appointments.")
				return nil
			}
			for _, appt := range upcoming {
				provider := "unassigned"
				if appt.ProviderID != nil {
					provider = strconv.FormatInt(*appt.ProviderID, 10)
				}
				fmt.Printf("#%d  %s %s  %-11s %-9s facility=%d provider=%s\n",
					appt.ID,
					appt.Day(),
					appt.ScheduledStart.Local().Format("15:04"),
					appt.Type,
					appt.Status,
					appt.FacilityID,
					provider)
			}
			return nil
		},
	}
}

func bookingFlags(cmd *cobra.Command, in *appointment.Input) {
	cmd.Flags().Int64Var(&in.PatientID, "patient", 0, "patient id (ignored for patient sessions)")
	cmd.Flags().Int64Var(&in.FacilityID, "facility", 0, "facility id")
	cmd.Flags().StringVar((*string)(&in.Type), "type", string(appointment.TypeGeneral), "appointment type")
	cmd.Flags().StringVar(&in.Date, "date", "", "civil date, YYYY-MM-DD")
	cmd.Flags().StringVar(&in.Time, "time", "", "start time, HH:MM")
	cmd.Flags().IntVar(&in.DurationMinutes, "duration", 0, "duration in minutes, multiple of 15")
	cmd.Flags().StringVar(&in.Reason, "reason", "", "reason for visit")
	cmd.Flags().StringVar(&in.Notes, "notes", "", "notes for the provider")
	var provider int64
	cmd.Flags().Int64Var(&provider, "provider", 0, "provider user id")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if provider != 0 {
			in.ProviderID = &provider
		}
	}
	_ = cmd.MarkFlagRequired("facility")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("time")
}

func reportOutcome(outcome appointment.Outcome, verb string) {
	if outcome.Warning != "" {
		fmt.Println("Note:", outcome.Warning)
	}
	if outcome.Appointment != nil {
		fmt.Printf("Appointment #%d %s for %s %s.\n",
			outcome.Appointment.ID, verb,
			outcome.Appointment.Day(),
			outcome.Appointment.ScheduledStart.Local().Format("15:04"))
		return
	}
	fmt.Printf("Appointment %s.\n", verb)
}

func newBookCmd() *cobra.Command {
	var in appointment.Input

	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book a new appointment",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := boot(cmd.Context(), false)
			if err != nil {
				return err
			}
			a.session.SetFacility(in.FacilityID)
			a.session.OpenAdd()

			outcome, err := a.session.SubmitAdd(cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("%s", a.session.ModalError())
			}
			reportOutcome(outcome, "booked")
			return nil
		},
	}
	bookingFlags(cmd, &in)
	return cmd
}

func newRescheduleCmd() *cobra.Command {
	var in appointment.Input

	cmd := &cobra.Command{
		Use:   "reschedule <id>",
		Short: "Move or edit an existing appointment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid appointment id %q", args[0])
			}

			a, err := boot(cmd.Context(), false)
			if err != nil {
				return err
			}
			if err := a.session.OpenEdit(id); err != nil {
				return err
			}

			outcome, err := a.session.SubmitEdit(cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("%s", a.session.ModalError())
			}
			reportOutcome(outcome, "rescheduled")
			return nil
		},
	}
	bookingFlags(cmd, &in)
	return cmd
}

func newCancelCmd() *cobra.Command {
	var reason string
	var yes bool

	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an appointment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid appointment id %q", args[0])
			}

			a, err := boot(cmd.Context(), yes)
			if err != nil {
				return err
			}
			if err := a.session.Cancel(cmd.Context(), id, reason); err != nil {
				return err
			}
			fmt.Printf("Appointment #%d cancelled.\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newNotificationsCmd() *cobra.Command {
	var markRead string

	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Show the in-app notification feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := boot(cmd.Context(), false)
			if err != nil {
				return err
			}
			if err := a.feed.Refresh(cmd.Context()); err != nil {
				return err
			}

			if markRead != "" {
				if err := a.feed.MarkRead(cmd.Context(), markRead); err != nil {
					return err
				}
			}

			fmt.Printf("Unread: %s\n", a.feed.BadgeText())
			for _, n := range a.feed.List() {
				flag := " "
				if !n.Read {
					flag = "*"
				}
				fmt.Printf("%s %s  %s  %s\n", flag, n.SentAt.Local().Format("2006-01-02 15:04"), n.ID, n.Subject)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&markRead, "read", "", "mark this notification id as read first")
	return cmd
}

// newWatchCmd keeps the push channel open and prints the feed whenever a
// new notification lands.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow live notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := boot(cmd.Context(), false)
			if err != nil {
				return err
			}
			if err := a.feed.Refresh(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("Watching. Unread: %s\n", a.feed.BadgeText())

			go a.listener.Run(cmd.Context())

			last := a.feed.Unread()
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
					if unread := a.feed.Unread(); unread != last {
						last = unread
						fmt.Printf("Unread: %s\n", a.feed.BadgeText())
					}
				}
			}
		},
	}
}
