package main

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"cinna/internal/account"
	"cinna/internal/apperr"
	"cinna/internal/gateway"
	"cinna/internal/session"
	"cinna/models"
)

func (a *app) accounts() *account.Service {
	return account.NewService(a.api, a.store, a.logger)
}

func newLoginCommand(a *app) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				username = a.prompt("Username:")
			}
			if password == "" {
				password = a.prompt("Password:")
			}
			user, err := a.accounts().Login(cmd.Context(), username, password)
			if err != nil {
				if apperr.Classify(err) == apperr.CodeValidation {
					return err
				}
				return errors.New(account.LoginMessage(err))
			}
			a.printf("Logged in as %s (%s)\n", user.DisplayName(), user.Role)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Account username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (prompted when omitted)")
	return cmd
}

func newRegisterCommand(a *app) *cobra.Command {
	var req models.RegisterRequest
	var role string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Role = models.Role(role)
			if req.Password == "" {
				req.Password = a.prompt("Password:")
				req.Password2 = a.prompt("Confirm password:")
			}
			if req.Password2 == "" {
				req.Password2 = req.Password
			}
			user, err := a.accounts().Register(cmd.Context(), req)
			if err != nil {
				if len(apperr.FieldsOf(err)) > 0 {
					return err
				}
				return errors.New(account.RegisterMessage(err))
			}
			a.printf("Welcome, %s! You are registered as a %s.\n", user.DisplayName(), user.Role)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Username, "username", "", "Username")
	f.StringVar(&req.Email, "email", "", "Email address")
	f.StringVar(&req.Password, "password", "", "Password (prompted when omitted)")
	f.StringVar(&req.FirstName, "first-name", "", "First name")
	f.StringVar(&req.LastName, "last-name", "", "Last name")
	f.StringVar(&req.CompanyName, "company", "", "Company name")
	f.StringVar(&req.PhoneNumber, "phone", "", "Phone number")
	f.StringVar(&role, "role", string(models.RoleBuyer), "Account role: buyer or manufacturer")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and forget it locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.accounts().Logout(cmd.Context()); err != nil {
				return err
			}
			a.printf("Logged out\n")
			return nil
		},
	}
}

func newWhoamiCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, ok := a.store.Current()
			if !ok {
				a.printf("Not logged in\n")
				return nil
			}
			printUser(a, user)
			return nil
		},
	}
}

func printUser(a *app, u models.User) {
	a.printf("%s [%s] %s\n", u.DisplayName(), u.Initials(), u.Role)
	a.printf("  username: %s\n  email:    %s\n", u.Username, u.Email)
	if u.CompanyName != "" {
		a.printf("  company:  %s\n", u.CompanyName)
	}
	if u.PhoneNumber != "" {
		a.printf("  phone:    %s\n", u.PhoneNumber)
	}
	if u.ProfilePicture != nil && *u.ProfilePicture != "" {
		a.printf("  picture:  %s\n", a.api.ResolveMediaURL(*u.ProfilePicture))
	}
}

func newProfileCommand(a *app) *cobra.Command {
	var (
		firstName, lastName, email, phone, company string
		picture                                    string
		removePicture                              bool
	)

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update the profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			current, ok := a.store.Current()
			if !ok {
				return session.ErrNotAuthenticated
			}
			edit := account.EditOf(current)
			f := cmd.Flags()
			if f.Changed("first-name") {
				edit.FirstName = firstName
			}
			if f.Changed("last-name") {
				edit.LastName = lastName
			}
			if f.Changed("email") {
				edit.Email = email
			}
			if f.Changed("phone") {
				edit.PhoneNumber = phone
			}
			if f.Changed("company") {
				edit.CompanyName = company
			}
			if picture != "" {
				file, err := readFile(picture)
				if err != nil {
					return err
				}
				edit.Picture = &file
			}
			edit.RemovePicture = removePicture

			user, changed, err := a.accounts().SaveProfile(cmd.Context(), edit)
			if err != nil {
				return errors.New(account.ProfileMessage(err))
			}
			if changed {
				a.printf("Profile updated successfully\n")
			}
			printUser(a, user)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&firstName, "first-name", "", "First name")
	f.StringVar(&lastName, "last-name", "", "Last name")
	f.StringVar(&email, "email", "", "Email address")
	f.StringVar(&phone, "phone", "", "Phone number")
	f.StringVar(&company, "company", "", "Company name")
	f.StringVar(&picture, "picture", "", "Path to a new profile picture (JPG, PNG or WebP, up to 5MB)")
	f.BoolVar(&removePicture, "remove-picture", false, "Remove the current profile picture")
	cmd.MarkFlagsMutuallyExclusive("picture", "remove-picture")
	return cmd
}

// readFile загружает локальный файл для отправки в multipart-запросе
func readFile(path string) (gateway.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return gateway.File{}, err
	}
	return gateway.File{
		Name:        filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Data:        data,
	}, nil
}
