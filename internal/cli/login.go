package cli

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/spf13/cobra"

	"courtbot/internal/config"
	"courtbot/internal/models"
	"courtbot/internal/notifier"
)

func NewLoginCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in and save the browser session for later runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.Login(cmd.Context()); err != nil {
				return err
			}
			if err := a.session.SaveState(); err != nil {
				return fmt.Errorf("failed to save session: %w", err)
			}
			c := a.engine.Credentials().Current()
			fmt.Fprintf(cmd.OutOrStdout(), "✅ logged in as %s, session valid until about %s\n",
				cfg.Credentials.UserID, c.ExpiresAt.Format(time.TimeOnly))
			return nil
		},
	}
}

func NewNotifyCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Email notification tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send a test email with the configured SMTP settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			if !cfg.Email.Enabled {
				return fmt.Errorf("email is disabled in %s", configPathOf(root))
			}
			if err := notifier.NewEmailNotifier(cfg.Email).TestConnection(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "📨 test email sent to %v\n", cfg.Email.To)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "preview",
		Short: "Print the email body for a sample slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			var f models.Facility
			if fs := models.ByPriority(cfg.Facilities); len(fs) > 0 {
				f = fs[0]
			}
			s := models.Slot{
				FacilityRef: models.FacilityRef{FacilityID: f.ID, FacilityName: f.Name},
				Date:        models.DateOf(time.Now()).AddDays(7),
				Start:       900,
				End:         1100,
				Status:      models.StatusAvailable,
			}
			n := notifier.NewEmailNotifier(cfg.Email).WithSender(func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
				_, err := cmd.OutOrStdout().Write(msg)
				return err
			})
			return n.NotifySlots([]models.Slot{s}, time.Now())
		},
	})
	return cmd
}

func configPathOf(root *rootOptions) string {
	if root.configPath != "" {
		return root.configPath
	}
	return config.GetConfigPath()
}
