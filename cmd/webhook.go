package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/iovation/launchkey-sdk-go/pkg/client"
	"github.com/iovation/launchkey-sdk-go/pkg/domain"
	"github.com/iovation/launchkey-sdk-go/pkg/webhook"
)

var webhookFlags struct {
	listen    string
	path      string
	serviceID string
	compact   bool
}

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Start a webhook server which prints the callbacks it receives",
	Long: `The API notifies a service of authorization responses and session ends
by calling its webhook. This server verifies each callback with the
configured credentials and prints it.

The service defaults to the config issuer when that is a service.`,
	Args: cobra.NoArgs,
	RunE: runWebhook,
}

func init() {
	rootCmd.AddCommand(webhookCmd)
	webhookCmd.PersistentFlags().StringVarP(
		&webhookFlags.listen,
		"listen",
		"l",
		":8080",
		"Address where to listen.",
	)
	webhookCmd.PersistentFlags().StringVar(
		&webhookFlags.path,
		"path",
		webhook.DefaultPath,
		"Path the API delivers callbacks to.",
	)
	webhookCmd.PersistentFlags().StringVar(
		&webhookFlags.serviceID,
		"service-id",
		"",
		"ID of the service the callbacks are for.",
	)
	webhookCmd.PersistentFlags().BoolVarP(
		&webhookFlags.compact,
		"compact",
		"",
		false,
		"Prints compact output.",
	)
}

func runWebhook(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log := klog.FromContext(ctx).WithName("webhook")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	serviceID, err := webhookServiceID(cfg.Issuer)
	if err != nil {
		return err
	}

	factory, err := cfg.NewFactory(ctx)
	if err != nil {
		return err
	}

	h := webhook.NewHandler(factory.ServiceClient(serviceID), printWebhook, webhook.Options{
		Path:   webhookFlags.path,
		Logger: log,
	})
	server := webhook.NewServer(webhookFlags.listen, h)

	errs := make(chan error, 1)
	go func() {
		errs <- server.ListenAndServe()
	}()
	fmt.Printf("Listening to callbacks for service %s at %s%s\n", serviceID, webhookFlags.listen, webhookFlags.path)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down webhook server: %w", err)
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// webhookServiceID picks the service from --service-id, falling back to the
// issuer.
func webhookServiceID(issuer string) (uuid.UUID, error) {
	if webhookFlags.serviceID != "" {
		id, err := uuid.Parse(webhookFlags.serviceID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid --service-id: %w", err)
		}
		return id, nil
	}

	entity, err := domain.ParseEntityIdentifier(issuer)
	if err != nil {
		return uuid.Nil, err
	}
	if entity.Type != domain.EntityService {
		return uuid.Nil, fmt.Errorf("--service-id is required when the issuer is not a service, got %s", entity)
	}
	return entity.ID, nil
}

func printWebhook(_ context.Context, pkg client.WebhookPackage) error {
	switch p := pkg.(type) {
	case *client.AuthorizationResponseWebhook:
		if p.Response.Authorized {
			color.Green("-- authorization %s -> %s\n", p.Response.AuthRequestID, p.Response.Type)
		} else {
			color.Red("-- authorization %s -> %s\n", p.Response.AuthRequestID, p.Response.Type)
		}
		color.Cyan("%s\n", prettyPrint(p.Response))
	case *client.SessionEndWebhook:
		color.Yellow("-- session end for %s at %s\n", p.UserHash, p.LogoutRequested.Format(time.RFC3339))
	default:
		return fmt.Errorf("unexpected callback %T", pkg)
	}
	color.Green("-----")
	return nil
}

func prettyPrint(x any) string {
	var (
		s   []byte
		err error
	)
	if webhookFlags.compact {
		s, err = json.Marshal(x)
	} else {
		s, err = json.MarshalIndent(x, "", "  ")
	}
	if err != nil {
		return fmt.Sprintf("%+v", x)
	}
	return string(s)
}
