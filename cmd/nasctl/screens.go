package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/tdisawas0github/project-os/internal/apiclient"
	"github.com/tdisawas0github/project-os/internal/poller"
	"github.com/tdisawas0github/project-os/internal/session"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"dashboard", "system"},
		Short:   "Show CPU, memory, disk and uptime",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := a.authed(cmd.Context())
			if err != nil {
				return err
			}
			info, err := c.SystemInfo(cmd.Context())
			if err != nil {
				return err
			}
			return renderSystem(a.printer(), info)
		},
	}
}

func renderSystem(p printer, info *apiclient.SystemInfo) error {
	if !p.human() {
		return p.print(info, nil)
	}
	w := p.w
	fmt.Fprintf(w, "System Status\n")
	fmt.Fprintf(w, "=============\n")
	fmt.Fprintf(w, "Hostname:    %s\n", info.Host.Hostname)
	fmt.Fprintf(w, "Platform:    %s %s (%s)\n", info.Host.Platform, info.Host.OS, info.Host.Arch)
	fmt.Fprintf(w, "CPU:         %s, %d cores\n", info.CPU.Model, info.CPU.Cores)
	fmt.Fprintf(w, "Uptime:      %s\n\n", formatUptime(info.Uptime))
	usageBar(w, "CPU", info.CPU.Usage, "")
	usageBar(w, "Memory", info.Memory.Percent,
		fmt.Sprintf("%s / %s", formatBytes(info.Memory.Used), formatBytes(info.Memory.Total)))
	for _, d := range info.Disk {
		usageBar(w, "Disk", d.Percent,
			fmt.Sprintf("%s / %s  %s", formatBytes(d.Used), formatBytes(d.Total), d.Mountpoint))
	}
	return nil
}

func newWatchCmd(a *app) *cobra.Command {
	var (
		interval    time.Duration
		schedule    string
		metricsAddr string
		count       int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh the system status until interrupted",
		Long: `Refresh the system status on a schedule, like the dashboard does.
Refreshing stops when you press Ctrl-C or when the NAS ends the session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			mgr, c, err := a.authed(ctx)
			if err != nil {
				return err
			}

			var sched cron.Schedule
			if schedule != "" {
				if sched, err = poller.ParseSchedule(schedule); err != nil {
					return err
				}
			} else {
				if interval <= 0 {
					interval = a.cfg.PollInterval
				}
				sched = poller.Every(interval)
			}

			if metricsAddr != "" {
				shutdown, err := serveMetrics(a, metricsAddr)
				if err != nil {
					return err
				}
				defer shutdown()
			}

			authCtx, cancelAuth := mgr.AuthContext(ctx)
			defer cancelAuth()
			runCtx, cancelRun := context.WithCancel(authCtx)
			defer cancelRun()

			p := a.printer()
			refreshes := 0
			task := poller.Task{
				Name:     "dashboard",
				Schedule: sched,
				Run: func(ctx context.Context) error {
					info, err := c.SystemInfo(ctx)
					if err != nil {
						return err
					}
					if p.human() && a.interactive() {
						fmt.Fprint(p.w, "\033[H\033[2J")
					}
					if err := renderSystem(p, info); err != nil {
						return err
					}
					if p.human() {
						fmt.Fprintf(p.w, "\nUpdated %s\n", time.Now().Format(time.Kitchen))
					}
					return nil
				},
				OnResult: func(err error) {
					if err != nil && !errors.Is(err, apiclient.ErrUnauthorized) {
						fmt.Fprintf(a.errOut, "refresh failed: %v\n", err)
					}
					refreshes++
					if count > 0 && refreshes >= count {
						cancelRun()
					}
				},
			}
			pl := poller.New(
				poller.WithLogger(a.log.With().Str("component", "poller").Logger()),
				poller.WithMetrics(poller.NewMetrics(a.reg)),
			)
			<-pl.Start(runCtx, task).Done()

			if errors.Is(context.Cause(authCtx), session.ErrSignedOut) {
				return fmt.Errorf("session ended: %w", session.ErrSignedOut)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "refresh interval (default from poll_interval)")
	cmd.Flags().StringVar(&schedule, "schedule", "", `cron schedule instead of an interval, e.g. "*/10 * * * * *"`)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while watching")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many refreshes")
	return cmd
}

func serveMetrics(a *app, addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("metrics server")
		}
	}()
	a.log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func newFilesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Browse and transfer files",
	}

	var yes bool
	rm := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := a.authed(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.confirm(yes, fmt.Sprintf("Delete %s?", args[0])); err != nil {
				return err
			}
			if err := c.DeleteFile(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printer().done("Deleted %s", args[0])
			return nil
		},
	}
	rm.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "ls [path]",
			Short: "List a directory",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, c, err := a.authed(cmd.Context())
				if err != nil {
					return err
				}
				dir := ""
				if len(args) > 0 {
					dir = args[0]
				}
				list, err := c.ListFiles(cmd.Context(), dir)
				if err != nil {
					return err
				}
				return a.printer().print(list, func(tw *tabwriter.Writer) {
					fmt.Fprintf(tw, "%s\n", list.CurrentPath)
					fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED")
					for _, f := range list.Files {
						name, size := f.Name, formatBytes(uint64(f.Size))
						if f.IsDir {
							name, size = name+"/", "-"
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\n", name, size, f.ModTime.Local().Format("2006-01-02 15:04"))
					}
					fmt.Fprintf(tw, "%d entries, %s\n", len(list.Files), formatBytes(uint64(list.TotalSize)))
				})
			},
		},
		&cobra.Command{
			Use:   "upload <local-file> [remote-dir]",
			Short: "Upload a file",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, c, err := a.authed(cmd.Context())
				if err != nil {
					return err
				}
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				st, err := f.Stat()
				if err != nil {
					return err
				}
				dir := "/"
				if len(args) > 1 {
					dir = args[1]
				}
				var r io.Reader = f
				if a.printer().human() {
					r = io.TeeReader(f, transferBar(a.errOut, st.Size(), "uploading"))
				}
				res, err := c.UploadFile(cmd.Context(), dir, filepath.Base(args[0]), r)
				if err != nil {
					return err
				}
				p := a.printer()
				if !p.human() {
					return p.print(res, nil)
				}
				p.done("Uploaded %s (%s)", res.Path, formatBytes(uint64(res.Size)))
				return nil
			},
		},
		&cobra.Command{
			Use:   "download <remote-path> [local-path]",
			Short: "Download a file",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, c, err := a.authed(cmd.Context())
				if err != nil {
					return err
				}
				dest := path.Base(args[0])
				if len(args) > 1 {
					dest = args[1]
				}
				tmp := dest + ".part"
				f, err := os.Create(tmp)
				if err != nil {
					return err
				}
				var w io.Writer = f
				if a.printer().human() {
					w = io.MultiWriter(f, transferBar(a.errOut, -1, "downloading"))
				}
				n, err := c.DownloadFile(cmd.Context(), args[0], w)
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					_ = os.Remove(tmp)
					return err
				}
				if err := os.Rename(tmp, dest); err != nil {
					return err
				}
				a.printer().done("Saved %s (%s)", dest, formatBytes(uint64(n)))
				return nil
			},
		},
		rm,
		&cobra.Command{
			Use:   "mkdir <parent> <name>",
			Short: "Create a folder",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				_, c, err := a.authed(cmd.Context())
				if err != nil {
					return err
				}
				p, err := c.CreateFolder(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				a.printer().done("Created %s", p)
				return nil
			},
		},
	)
	return cmd
}

func newSharesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shares",
		Short: "Manage Samba shares",
	}

	var share apiclient.Share
	add := &cobra.Command{
		Use:   "add <name> <path>",
		Short: "Create a share",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := a.authed(cmd.Context())
			if err != nil {
				return err
			}
			share.Name, share.Path = args[0], args[1]
			if err := c.CreateShare(cmd.Context(), share); err != nil {
				return err
			}
			a.printer().done("Share %s created", share.Name)
			return nil
		},
	}
	add.Flags().StringVar(&share.Comment, "comment", "", "description shown to clients")
	add.Flags().BoolVar(&share.ReadOnly, "readonly", false, "make the share read-only")
	add.Flags().BoolVar(&share.Browseable, "browseable", true, "list the share when browsing")
	add.Flags().BoolVar(&share.GuestOK, "guest", false, "allow guest access")
	add.Flags().StringSliceVar(&share.ValidUsers, "users", nil, "users allowed to connect")

	var yes bool
	rm := &cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a share",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := a.authed(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.confirm(yes, fmt.Sprintf("Delete share %s?", args[0])); err != nil {
				return err
			}
			if err := c.DeleteShare(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printer().done("Share %s deleted", args[0])
			return nil
		},
	}
	rm.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "ls",
			Short: "List shares",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				_, c, err := a.authed(cmd.Context())
				if err != nil {
					return err
				}
				cfg, err := c.SambaConfig(cmd.Context())
				if err != nil {
					return err
				}
				return a.printer().print(cfg, func(tw *tabwriter.Writer) {
					fmt.Fprintf(tw, "Workgroup: %s\n", cfg.Workgroup)
					fmt.Fprintln(tw, "NAME\tPATH\tACCESS\tGUEST\tUSERS\tCOMMENT")
					for _, s := range cfg.Shares {
						access := "read-write"
						if s.ReadOnly {
							access = "read-only"
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n", s.Name, s.Path, access, s.GuestOK, joinOr(s.ValidUsers, "all"), s.Comment)
					}
				})
			},
		},
		add,
		rm,
	)
	return cmd
}

func newSambaCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "samba",
		Short: "Samba service status and control",
	}
	action := func(use, short string, fn func(*apiclient.Client, context.Context) (*apiclient.ServiceAction, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				_, c, err := a.authed(cmd.Context())
				if err != nil {
					return err
				}
				res, err := fn(c, cmd.Context())
				if err != nil {
					return err
				}
				p := a.printer()
				if !p.human() {
					return p.print(res, nil)
				}
				p.done("%s", res.Message)
				return nil
			},
		}
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show service status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				_, c, err := a.authed(cmd.Context())
				if err != nil {
					return err
				}
				st, err := c.SambaStatus(cmd.Context())
				if err != nil {
					return err
				}
				return a.printer().print(st, func(tw *tabwriter.Writer) {
					fmt.Fprintf(tw, "Installed:\t%s\n", statusWord(st.Installed, "yes", "no"))
					fmt.Fprintf(tw, "Service:\t%s\n", statusWord(st.Running, "running", "stopped"))
					fmt.Fprintf(tw, "Version:\t%s\n", st.Version)
					fmt.Fprintf(tw, "Shares:\t%d\n", st.Shares)
				})
			},
		},
		action("start", "Start the Samba service", (*apiclient.Client).StartSamba),
		action("stop", "Stop the Samba service", (*apiclient.Client).StopSamba),
	)
	return cmd
}

func newUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage NAS users",
	}

	var nu apiclient.NewUser
	var passwordStdin bool
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := a.authed(cmd.Context())
			if err != nil {
				return err
			}
			nu.Username = args[0]
			if nu.Password, err = a.readSecret(passwordStdin, "Password for "+nu.Username+":"); err != nil {
				return err
			}
			u, err := c.CreateUser(cmd.Context(), nu)
			if err != nil {
				return err
			}
			p := a.printer()
			if !p.human() {
				return p.print(u, nil)
			}
			p.done("User %s created (%s)", u.Username, u.Role)
			return nil
		},
	}
	add.Flags().StringVar(&nu.Email, "email", "", "email address")
	add.Flags().StringVar(&nu.Role, "role", "", "role: admin or user (default user)")
	add.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")

	var yes bool
	rm := &cobra.Command{
		Use:   "rm <username>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := a.authed(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.confirm(yes, fmt.Sprintf("Delete user %s?", args[0])); err != nil {
				return err
			}
			if err := c.DeleteUser(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printer().done("User %s deleted", args[0])
			return nil
		},
	}
	rm.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "ls",
			Short: "List users",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				_, c, err := a.authed(cmd.Context())
				if err != nil {
					return err
				}
				users, err := c.ListUsers(cmd.Context())
				if err != nil {
					return err
				}
				return a.printer().print(users, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "ID\tUSERNAME\tROLE\tEMAIL\tLAST LOGIN")
					for _, u := range users {
						last := "never"
						if u.LastLogin != nil && !u.LastLogin.IsZero() {
							last = u.LastLogin.Format("2006-01-02 15:04")
						}
						fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", u.ID, u.Username, u.Role, u.Email, last)
					}
				})
			},
		},
		add,
		rm,
	)
	return cmd
}

func newNetworkCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "network",
		Short: "Show network interfaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := a.authed(cmd.Context())
			if err != nil {
				return err
			}
			n, err := c.NetworkConfig(cmd.Context())
			if err != nil {
				return err
			}
			return a.printer().print(n, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "Hostname:\t%s\n", n.Hostname)
				fmt.Fprintf(tw, "Gateway:\t%s\n", n.DefaultGateway)
				fmt.Fprintf(tw, "DNS:\t%s\n", joinOr(n.DNSServers, "-"))
				fmt.Fprintf(tw, "Active:\t%d of %d\n\n", n.ActiveInterfaces(), len(n.Interfaces))
				fmt.Fprintln(tw, "NAME\tSTATUS\tIP\tMAC\tTYPE\tRX\tTX")
				for _, i := range n.Interfaces {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", i.Name, statusWord(i.Up(), "up", "down"),
						i.IP, i.MAC, i.Type, formatBytes(uint64(i.RxBytes)), formatBytes(uint64(i.TxBytes)))
				}
			})
		},
	}
}
