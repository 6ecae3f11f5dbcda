package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	"github.com/hackgods/clinic-appointment-booking/internal/booking"
	"github.com/hackgods/clinic-appointment-booking/internal/cache"
	"github.com/hackgods/clinic-appointment-booking/internal/config"
	"github.com/hackgods/clinic-appointment-booking/internal/logging"
	"github.com/hackgods/clinic-appointment-booking/internal/slot"
	"github.com/hackgods/clinic-appointment-booking/internal/storeclient"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, appointment.Reason(err))
		os.Exit(1)
	}
}

type app struct {
	apiURL string
	client *booking.Client
}

func rootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "bookctl",
		Short:         "Book and manage clinic appointments",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			if a.apiURL != "" {
				cfg.APIBaseURL = a.apiURL
			}

			log := logging.NewWithWriter(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}, cfg.LogLevel)
			store := storeclient.New(cfg, nil, storeclient.WithLogger(log))
			a.client = booking.NewClient(store,
				booking.WithLogger(log),
				booking.WithPolicy(cfg.StatusPolicy),
				booking.WithSettleTimeout(cfg.SettleTimeout),
			)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.apiURL, "api", "", "api-server base URL (defaults to BOOKING_API_URL)")

	root.AddCommand(a.checkCmd(), a.bookCmd(), a.listCmd(), a.rescheduleCmd(), a.statusCmd(), a.cancelCmd(), a.deleteCmd())
	return root
}

type slotFlags struct {
	doctor   string
	date     string
	time     string
	duration int
}

func (f *slotFlags) register(cmd *cobra.Command, withDoctor bool) {
	if withDoctor {
		cmd.Flags().StringVar(&f.doctor, "doctor", "", "doctor id")
		_ = cmd.MarkFlagRequired("doctor")
	}
	cmd.Flags().StringVar(&f.date, "date", "", "date as YYYY-MM-DD")
	cmd.Flags().StringVar(&f.time, "time", "", "start time as HH:MM")
	cmd.Flags().IntVar(&f.duration, "duration", 30, "length in minutes")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("time")
}

func (f *slotFlags) parse() (slot.Date, slot.TimeOfDay, error) {
	date, err := slot.ParseDate(f.date)
	if err != nil {
		return "", 0, &appointment.ValidationError{Fields: []string{"date must be YYYY-MM-DD"}}
	}
	at, err := slot.ParseTimeOfDay(f.time)
	if err != nil {
		return "", 0, &appointment.ValidationError{Fields: []string{"time must be a valid HH:MM time of day"}}
	}
	return date, at, nil
}

func (a *app) checkCmd() *cobra.Command {
	var f slotFlags
	var exclude string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a doctor is free for a slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, at, err := f.parse()
			if err != nil {
				return err
			}
			ok, err := a.client.CheckAvailability(cmd.Context(), f.doctor, date, at, f.duration, exclude)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"doctor_id": f.doctor,
				"date":      date,
				"time":      at,
				"duration":  f.duration,
				"available": ok,
			})
		},
	}
	f.register(cmd, true)
	cmd.Flags().StringVar(&exclude, "exclude", "", "appointment id to ignore, for reschedules")
	return cmd
}

func (a *app) bookCmd() *cobra.Command {
	var f slotFlags
	var patient, reason, notes, createdBy string

	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book an appointment",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, at, err := f.parse()
			if err != nil {
				return err
			}
			task := a.client.CreateAppointment(cmd.Context(), appointment.Draft{
				PatientID: patient,
				DoctorID:  f.doctor,
				Date:      date,
				Time:      at,
				Duration:  f.duration,
				Reason:    reason,
				Notes:     notes,
				CreatedBy: createdBy,
			}, progress(cmd))
			return printTask(cmd, task)
		},
	}
	f.register(cmd, true)
	cmd.Flags().StringVar(&patient, "patient", "", "patient id")
	cmd.Flags().StringVar(&reason, "reason", "", "reason for the visit")
	cmd.Flags().StringVar(&notes, "notes", "", "free text notes")
	cmd.Flags().StringVar(&createdBy, "by", "", "who is booking")
	_ = cmd.MarkFlagRequired("patient")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	var filter appointment.Filter
	var date, status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Date = slot.Date(date)
			filter.Status = appointment.Status(status)
			list, err := a.client.ListAppointments(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().StringVar(&filter.DoctorID, "doctor", "", "only this doctor")
	cmd.Flags().StringVar(&date, "date", "", "only this date")
	cmd.Flags().StringVar(&filter.PatientID, "patient", "", "only this patient")
	cmd.Flags().StringVar(&status, "status", "", "only this status")
	return cmd
}

func (a *app) rescheduleCmd() *cobra.Command {
	var f slotFlags

	cmd := &cobra.Command{
		Use:   "reschedule ID",
		Short: "Move an appointment to another slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, at, err := f.parse()
			if err != nil {
				return err
			}
			return printTask(cmd, a.client.RescheduleAppointment(cmd.Context(), args[0], date, at, f.duration, progress(cmd)))
		},
	}
	f.register(cmd, false)
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status ID STATUS",
		Short: "Change the status of an appointment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := appointment.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return printTask(cmd, a.client.TransitionStatus(cmd.Context(), args[0], st, progress(cmd)))
		},
	}
}

func (a *app) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel an appointment and free its slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printTask(cmd, a.client.CancelAppointment(cmd.Context(), args[0], progress(cmd)))
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an appointment permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printTask(cmd, a.client.DeleteAppointment(cmd.Context(), args[0], progress(cmd)))
		},
	}
}

func progress(cmd *cobra.Command) cache.Hooks {
	return cache.Hooks{
		OnStart: func(p *appointment.Appointment) {
			if p != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "sending %s (%s %s %s)...\n", p.ID, p.DoctorID, p.Date, p.Time)
			}
		},
	}
}

func printTask(cmd *cobra.Command, task *cache.Task) error {
	res, err := task.Wait(cmd.Context())
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
