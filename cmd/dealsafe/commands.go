package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/zombor/dealsafe/internal/failure"
	"github.com/zombor/dealsafe/internal/ingest"
	"github.com/zombor/dealsafe/internal/share"
	"github.com/zombor/dealsafe/internal/upload"
)

type rootCommand struct {
	command *ff.Command
	flags   *ff.FlagSet

	configPath *string
	apiURL     *string
	statePath  *string
	logLevel   *string
	logFormat  *string
}

func newRootCommand() *rootCommand {
	fs := ff.NewFlagSet("dealsafe")
	r := &rootCommand{
		flags:      fs,
		configPath: fs.StringLong("config", "", "Config file path (default ~/.config/dealsafe/config.toml)"),
		apiURL:     fs.StringLong("api-url", "", "Backend base URL"),
		statePath:  fs.StringLong("state", "", "Local state database path"),
		logLevel:   fs.StringLong("log-level", "", "Log level: debug, info, warn, error"),
		logFormat:  fs.StringLong("log-format", "", "Log format: text or json"),
	}
	fs.BoolLong("version", "Show version information")

	r.command = &ff.Command{
		Name:      "dealsafe",
		Usage:     "dealsafe [FLAGS] <SUBCOMMAND>",
		ShortHelp: "Upload vouchers and gift cards for analysis",
		Flags:     fs,
		Subcommands: []*ff.Command{
			r.loginCommand(),
			r.logoutCommand(),
			r.listCommand(),
			r.uploadCommand(),
			r.shareCommand(),
			r.watchCommand(),
			r.markUsedCommand(),
			r.deleteCommand(),
			r.deleteAccountCommand(),
			r.notificationsCommand(),
		},
		Exec: func(ctx context.Context, args []string) error {
			return ff.ErrHelp
		},
	}
	return r
}

func (r *rootCommand) globals() globalFlags {
	return globalFlags{
		configPath: *r.configPath,
		apiURL:     *r.apiURL,
		statePath:  *r.statePath,
		logLevel:   *r.logLevel,
		logFormat:  *r.logFormat,
	}
}

// run wires the app for the duration of one subcommand
func (r *rootCommand) run(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(r.globals())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func (r *rootCommand) loginCommand() *ff.Command {
	fs := ff.NewFlagSet("login").SetParent(r.flags)
	phone := fs.StringLong("phone", "", "Danish phone number")
	code := fs.StringLong("code", "", "One-time code (prompted when omitted)")
	return &ff.Command{
		Name:      "login",
		Usage:     "dealsafe login [--phone NUMBER] [--code CODE]",
		ShortHelp: "Log in with a one-time code sent by SMS",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			return r.run(ctx, func(ctx context.Context, a *app) error {
				number := *phone
				if number == "" {
					var err error
					if number, err = a.term.Prompt(ctx, "Phone number:"); err != nil {
						return err
					}
				}
				normalized, err := a.login.RequestCode(ctx, number)
				if err != nil {
					return err
				}
				a.term.Printf("A code was sent to %s\n", normalized)

				otp := *code
				if otp == "" {
					if otp, err = a.term.Prompt(ctx, "Code:"); err != nil {
						return err
					}
				}
				s, err := a.login.Verify(ctx, normalized, otp)
				if err != nil {
					return err
				}
				a.term.Printf("Logged in as %s\n", s.User.PhoneNumber)

				if err := a.store.Refresh(ctx); err != nil {
					slog.Warn("Failed to load vouchers after login", "error", err)
				}
				return nil
			})
		},
	}
}

func (r *rootCommand) logoutCommand() *ff.Command {
	fs := ff.NewFlagSet("logout").SetParent(r.flags)
	return &ff.Command{
		Name:      "logout",
		Usage:     "dealsafe logout",
		ShortHelp: "Forget the stored session and voucher list",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			return r.run(ctx, func(ctx context.Context, a *app) error {
				if err := a.login.Logout(); err != nil {
					return err
				}
				a.store.Clear()
				a.term.Printf("Logged out\n")
				return nil
			})
		},
	}
}

func (r *rootCommand) listCommand() *ff.Command {
	fs := ff.NewFlagSet("list").SetParent(r.flags)
	offline := fs.BoolLong("offline", "Show the last downloaded list without contacting the backend")
	return &ff.Command{
		Name:      "list",
		Usage:     "dealsafe list [--offline]",
		ShortHelp: "Show your vouchers",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			return r.run(ctx, func(ctx context.Context, a *app) error {
				if *offline {
					if err := a.store.LoadCached(); err != nil {
						return err
					}
				} else if err := a.store.Refresh(ctx); err != nil {
					return err
				}
				vouchers := a.store.All()
				if len(vouchers) == 0 {
					a.term.Printf("No vouchers yet\n")
					return nil
				}
				a.term.Printf("%s\n", renderVouchers(vouchers))
				return nil
			})
		},
	}
}

func (r *rootCommand) uploadCommand() *ff.Command {
	fs := ff.NewFlagSet("upload").SetParent(r.flags)
	source := fs.StringLong("source", "document", "Where the files came from: camera, library or document")
	return &ff.Command{
		Name:      "upload",
		Usage:     "dealsafe upload [--source SOURCE] FILE...",
		ShortHelp: "Upload files for analysis, one at a time",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			return r.run(ctx, func(ctx context.Context, a *app) error {
				src := ingest.ParseSource(*source)
				attachments, err := ingest.Collect(ctx, ingest.FilePicker{Paths: args}, src, a.normalizer)
				if err != nil {
					return err
				}
				if len(attachments) == 0 {
					a.term.Printf("Nothing selected\n")
					return nil
				}

				var result upload.BatchResult
				err = a.withProgress(ctx, func(ctx context.Context) error {
					var err error
					result, err = a.coordinator.SubmitBatch(ctx, attachments)
					return err
				})
				a.printBatch(result)
				return err
			})
		},
	}
}

func (r *rootCommand) shareCommand() *ff.Command {
	fs := ff.NewFlagSet("share").SetParent(r.flags)
	return &ff.Command{
		Name:      "share",
		Usage:     "dealsafe share URL|TEXT|FILE...",
		ShortHelp: "Share a link or files the way another app would",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			src, err := share.NewStaticSource(args, time.Now())
			if err != nil {
				return err
			}
			return r.run(ctx, func(ctx context.Context, a *app) error {
				err := a.withProgress(ctx, func(ctx context.Context) error {
					return a.dispatcher.Handle(ctx, src)
				})
				return alreadyShown(err)
			})
		},
	}
}

func (r *rootCommand) watchCommand() *ff.Command {
	fs := ff.NewFlagSet("watch").SetParent(r.flags)
	dir := fs.StringLong("inbox", "", "Inbox directory (default from config)")
	return &ff.Command{
		Name:      "watch",
		Usage:     "dealsafe watch [--inbox DIR]",
		ShortHelp: "Upload whatever is dropped into the inbox directory",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			return r.run(ctx, func(ctx context.Context, a *app) error {
				inbox := a.cfg.InboxDir
				if *dir != "" {
					inbox = *dir
				}
				spool, err := share.NewSpool(inbox)
				if err != nil {
					return err
				}
				if err := spool.Lock(); err != nil {
					return err
				}
				defer func() {
					if err := spool.Unlock(); err != nil {
						slog.Warn("Failed to release inbox lock", "error", err)
					}
				}()

				slog.Info("Watching inbox", "dir", spool.Dir(), "interval", a.cfg.PollInterval())
				err = share.Watch(ctx, spool, a.dispatcher, a.cfg.PollInterval())
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}

func (r *rootCommand) markUsedCommand() *ff.Command {
	fs := ff.NewFlagSet("mark-used").SetParent(r.flags)
	return &ff.Command{
		Name:      "mark-used",
		Usage:     "dealsafe mark-used ID",
		ShortHelp: "Archive a voucher you have redeemed",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			id, err := voucherArg(args)
			if err != nil {
				return err
			}
			return r.run(ctx, func(ctx context.Context, a *app) error {
				if err := a.store.MarkUsed(ctx, id); err != nil {
					return err
				}
				a.term.Printf("Voucher %d marked as used\n", id)
				return nil
			})
		},
	}
}

func (r *rootCommand) deleteCommand() *ff.Command {
	fs := ff.NewFlagSet("delete").SetParent(r.flags)
	return &ff.Command{
		Name:      "delete",
		Usage:     "dealsafe delete ID",
		ShortHelp: "Delete a voucher",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			id, err := voucherArg(args)
			if err != nil {
				return err
			}
			return r.run(ctx, func(ctx context.Context, a *app) error {
				if err := a.store.LoadCached(); err != nil {
					slog.Debug("No cached vouchers", "error", err)
				}
				if err := a.store.Delete(ctx, id); err != nil {
					return err
				}
				a.term.Printf("Voucher %d deleted\n", id)
				return nil
			})
		},
	}
}

func (r *rootCommand) deleteAccountCommand() *ff.Command {
	fs := ff.NewFlagSet("delete-account").SetParent(r.flags)
	code := fs.StringLong("code", "", "Confirmation code (prompted when omitted)")
	yes := fs.BoolLong("yes", "Skip the confirmation question")
	return &ff.Command{
		Name:      "delete-account",
		Usage:     "dealsafe delete-account [--yes] [--code CODE]",
		ShortHelp: "Permanently delete your account and all vouchers",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			return r.run(ctx, func(ctx context.Context, a *app) error {
				if !*yes {
					ok, err := a.term.Confirm(ctx, "Delete Account", "This permanently deletes your account and all vouchers. Continue?")
					if err != nil {
						return err
					}
					if !ok {
						return nil
					}
				}
				if err := a.login.RequestAccountDeletion(ctx); err != nil {
					return err
				}
				otp := *code
				if otp == "" {
					var err error
					if otp, err = a.term.Prompt(ctx, "Confirmation code:"); err != nil {
						return err
					}
				}
				if err := a.login.ConfirmAccountDeletion(ctx, otp); err != nil {
					return err
				}
				a.store.Clear()
				a.term.Printf("Account deleted\n")
				return nil
			})
		},
	}
}

func (r *rootCommand) notificationsCommand() *ff.Command {
	fs := ff.NewFlagSet("notifications").SetParent(r.flags)
	return &ff.Command{
		Name:      "notifications",
		Usage:     "dealsafe notifications",
		ShortHelp: "Register for expiry reminders now",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			return r.run(ctx, func(ctx context.Context, a *app) error {
				if !a.client.Authenticated() {
					return failure.ErrNotAuthenticated
				}
				a.reminder.Enable(ctx)
				return nil
			})
		},
	}
}

func (a *app) printBatch(result upload.BatchResult) {
	for _, v := range result.Vouchers {
		a.term.Printf("Uploaded %s (voucher %d, %s)\n", v.OriginalFilename, v.ID, v.Status())
		if steps := renderSteps(v); steps != "" {
			a.term.Printf("%s\n", steps)
		}
	}
	if result.Skipped > 0 {
		a.term.Printf("%d file(s) were not uploaded\n", result.Skipped)
	}
}

// alreadyShown replaces errors the coordinator has put on screen
func alreadyShown(err error) error {
	switch failure.KindOf(err) {
	case failure.KindRemoteRejection, failure.KindTransport, failure.KindValidation:
		return errReported
	}
	return err
}

func voucherArg(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, failure.Invalid("Missing voucher", "Pass exactly one voucher ID")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, failure.Invalid("Invalid voucher", fmt.Sprintf("%q is not a voucher ID", args[0]))
	}
	return id, nil
}
