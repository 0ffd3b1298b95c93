package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"sadhana-metering/internal/logger"
	"sadhana-metering/pkg/client"
	"sadhana-metering/pkg/metering"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "sadhana-chat",
		Usage: "terminal client for the metered chat API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Value:   "http://localhost:8080",
				Usage:   "API base URL",
				EnvVars: []string{"SADHANA_SERVER"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "bearer token from the login command",
				EnvVars: []string{"SADHANA_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "print a bearer token for the given credentials",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
					&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Required: true, EnvVars: []string{"SADHANA_PASSWORD"}},
				},
				Action: loginAction,
			},
			{
				Name:   "usage",
				Usage:  "show today's quota",
				Action: usageAction,
			},
			{
				Name:  "history",
				Usage: "list conversations, or print one with --id",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "conversation to print"},
				},
				Action: historyAction,
			},
			{
				Name:  "chat",
				Usage: "interactive chat; /clear deletes the conversation, /quit exits",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "system", Usage: "extra system instruction"},
				},
				Action: chatAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		os.Exit(1)
	}
}

func newClient(c *cli.Context) *client.Client {
	return client.New(client.Config{
		BaseURL: c.String("server"),
		Token:   c.String("token"),
	})
}

func loginAction(c *cli.Context) error {
	token, err := newClient(c).Login(c.Context, c.String("username"), c.String("password"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func usageAction(c *cli.Context) error {
	usage, err := newClient(c).Usage(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("plan %s (%s), day %s %s\n", usage.Plan, usage.Status, usage.DateBucket, usage.Timezone)
	for _, f := range metering.Features {
		q, ok := usage.Features[f]
		if !ok {
			continue
		}
		fmt.Printf("  %-9s %s\n", f, formatQuota(q))
	}
	return nil
}

func formatQuota(q metering.Quota) string {
	if q.Remaining < 0 {
		return fmt.Sprintf("%d used, unlimited", q.Used)
	}
	s := fmt.Sprintf("%d used, %d remaining", q.Used, q.Remaining)
	if q.Warn {
		s += " (running low)"
	}
	return s
}

func historyAction(c *cli.Context) error {
	api := newClient(c)
	if id := c.String("id"); id != "" {
		session := client.NewSession(api, client.WithLogger(logger.New(os.Stderr, c.String("log-level"))))
		messages, err := session.ViewConversation(c.Context, id)
		if err != nil {
			return err
		}
		for _, m := range messages {
			printMessage(m)
		}
		return nil
	}

	conversations, err := api.ListConversations(c.Context)
	if err != nil {
		return err
	}
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt > conversations[j].UpdatedAt
	})
	for _, conv := range conversations {
		fmt.Printf("%s  %s  %s\n", conv.ID, conv.UpdatedAt, conv.Title)
	}
	return nil
}

func printMessage(m client.Message) {
	fmt.Printf("%s> %s\n", m.Role, m.Content)
	if len(m.Citations) > 0 {
		fmt.Printf("   sources: %s\n", strings.Join(m.Citations, "; "))
	}
}

func chatAction(c *cli.Context) error {
	session := client.NewSession(newClient(c),
		client.WithLogger(logger.New(os.Stderr, c.String("log-level"))),
		client.WithSystem(c.String("system")),
		client.WithFragmentHandler(func(fragment string) { fmt.Print(fragment) }),
	)
	if err := session.Start(c.Context); err != nil {
		return err
	}
	for _, m := range session.Transcript() {
		printMessage(m)
	}
	printRemaining(session)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return nil
		case "/clear":
			if err := session.Clear(c.Context); err != nil {
				fmt.Fprintln(os.Stderr, "error:", describe(err))
			}
			continue
		}

		// Ctrl-C aborts the turn in flight, not the program.
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		fmt.Print("assistant> ")
		msg, err := session.Send(ctx, line)
		stop()
		fmt.Println()

		switch {
		case errors.Is(err, context.Canceled):
			fmt.Println("(aborted)")
		case err != nil:
			fmt.Fprintln(os.Stderr, "error:", describe(err))
		case msg != nil && len(msg.Citations) > 0:
			fmt.Printf("   sources: %s\n", strings.Join(msg.Citations, "; "))
		}
		printRemaining(session)
	}
}

func printRemaining(session *client.Session) {
	q := session.Usage().Quota(metering.FeatureChat)
	if q.Remaining >= 0 {
		fmt.Printf("[%d chat messages left today]\n", q.Remaining)
	}
}

func describe(err error) string {
	var quota *client.QuotaExceededError
	switch {
	case errors.Is(err, client.ErrUnauthenticated):
		return "not logged in; run `sadhana-chat login` and set SADHANA_TOKEN"
	case errors.As(err, &quota) && quota.PlanRequired:
		return fmt.Sprintf("%s is not included in your plan; upgrade to use it", quota.Feature)
	case errors.As(err, &quota):
		return "you have used today's messages; upgrade or come back tomorrow"
	default:
		return err.Error()
	}
}
