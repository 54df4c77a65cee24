package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/auth"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/clients/esignClient"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/config"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/transport"
)

func main() {
	app := &cli.App{
		Name:  "esign-client",
		Usage: "Client for the electronic signature evidence server",
		Description: `A command line client for the esign server.

This client can:
- Request a one-time code for a signer
- Sign a template or an uploaded document
- Look up and verify stored evidence`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Base URL of the esign server",
				Value:   "http://localhost:8080",
				EnvVars: []string{config.EnvServerURL},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token for OTP and signing requests",
				EnvVars: []string{config.EnvToken},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "request-otp",
				Usage: "Issue a one-time code and deliver it to the signer",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "signer-id", Usage: "Signer CPF", Required: true},
					&cli.StringFlag{Name: "method", Usage: "Email, SMS or WhatsApp", Value: "Email"},
					&cli.StringFlag{Name: "recipient", Usage: "Email address or phone number", Required: true},
				},
				Action: requestOTPCommand,
			},
			{
				Name:  "sign",
				Usage: "Sign a template or an uploaded document with a one-time code",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "signer-id", Usage: "Signer CPF", Required: true},
					&cli.StringFlag{Name: "document-id", Usage: "Document identifier", Required: true},
					&cli.StringFlag{Name: "signer-name", Usage: "Signer full name", Required: true},
					&cli.StringFlag{Name: "contract-title", Usage: "Contract title", Required: true},
					&cli.StringFlag{Name: "otp", Usage: "One-time code", Required: true},
					&cli.StringFlag{Name: "template-id", Usage: "Template to sign"},
					&cli.StringFlag{Name: "document", Usage: "Path of a document to upload instead of a template"},
					&cli.StringFlag{Name: "rubric", Usage: "Path of the handwritten rubric image", Required: true},
				},
				Action: signCommand,
			},
			{
				Name:      "get",
				Usage:     "Fetch the first evidence record matching a term",
				ArgsUsage: "<term>",
				Action:    getCommand,
			},
			{
				Name:      "list",
				Usage:     "Fetch every evidence record matching a term",
				ArgsUsage: "<term>",
				Action:    listCommand,
			},
			{
				Name:      "verify",
				Usage:     "Recompute signature and timestamp checks for a stored record",
				ArgsUsage: "<term>",
				Action:    verifyCommand,
			},
			{
				Name:   "health",
				Usage:  "Check server health",
				Action: healthCommand,
			},
			{
				Name:  "mint-token",
				Usage: "Mint an HS256 bearer token for local development",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "secret", Usage: "Shared JWT secret", EnvVars: []string{config.EnvJWTSecret}, Required: true},
					&cli.StringFlag{Name: "subject", Usage: "Token subject", Value: "dev"},
					&cli.StringFlag{Name: "signer-id", Usage: "Bind the token to one signer"},
					&cli.StringFlag{Name: "issuer", EnvVars: []string{config.EnvJWTIssuer}},
					&cli.StringFlag{Name: "audience", EnvVars: []string{config.EnvJWTAudience}},
					&cli.DurationFlag{Name: "ttl", Value: time.Hour},
				},
				Action: mintTokenCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func createClient(c *cli.Context) (*esignClient.Client, error) {
	zapLogger, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return esignClient.NewClient(&esignClient.ClientConfig{
		BaseURL: c.String("server-url"),
		Token:   c.String("token"),
		Timeout: 60 * time.Second,
		Retry:   transport.DefaultRetryConfig,
		Logger:  zapLogger,
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func termArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one search term")
	}
	return c.Args().First(), nil
}

func requestOTPCommand(c *cli.Context) error {
	client, err := createClient(c)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	res, err := client.RequestOTP(c.Context, c.String("signer-id"), c.String("method"), c.String("recipient"))
	if err != nil {
		return fmt.Errorf("failed to request code: %w", err)
	}
	fmt.Printf("%s (expires %s)\n", res.Message, res.ExpiresAt.Format(time.RFC3339))
	return nil
}

func signCommand(c *cli.Context) error {
	req := &esignClient.SignRequest{
		SignerID:      c.String("signer-id"),
		DocumentID:    c.String("document-id"),
		SignerName:    c.String("signer-name"),
		ContractTitle: c.String("contract-title"),
		OTP:           c.String("otp"),
		TemplateID:    c.String("template-id"),
	}

	rubricPath := c.String("rubric")
	rubric, err := os.ReadFile(rubricPath)
	if err != nil {
		return fmt.Errorf("failed to read rubric: %w", err)
	}
	req.Rubric, req.RubricName = rubric, filepath.Base(rubricPath)

	if docPath := c.String("document"); docPath != "" {
		doc, err := os.ReadFile(docPath)
		if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}
		req.Document, req.DocumentName = doc, filepath.Base(docPath)
	}

	client, err := createClient(c)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	res, err := client.SignDocument(c.Context, req)
	if err != nil {
		return fmt.Errorf("failed to sign document: %w", err)
	}
	return printJSON(res)
}

func getCommand(c *cli.Context) error {
	term, err := termArg(c)
	if err != nil {
		return err
	}
	client, err := createClient(c)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	record, err := client.GetEvidence(c.Context, term)
	if err != nil {
		return fmt.Errorf("failed to get evidence: %w", err)
	}
	return printJSON(record)
}

func listCommand(c *cli.Context) error {
	term, err := termArg(c)
	if err != nil {
		return err
	}
	client, err := createClient(c)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	records, err := client.ListEvidence(c.Context, term)
	if err != nil {
		return fmt.Errorf("failed to list evidence: %w", err)
	}
	return printJSON(records)
}

func verifyCommand(c *cli.Context) error {
	term, err := termArg(c)
	if err != nil {
		return err
	}
	client, err := createClient(c)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	res, err := client.VerifyEvidence(c.Context, term)
	if err != nil {
		return fmt.Errorf("failed to verify evidence: %w", err)
	}
	if err := printJSON(res); err != nil {
		return err
	}
	if !res.Valid {
		return cli.Exit("evidence failed verification", 2)
	}
	return nil
}

func healthCommand(c *cli.Context) error {
	client, err := createClient(c)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	if err := client.Health(c.Context); err != nil {
		return fmt.Errorf("server unhealthy: %w", err)
	}
	fmt.Println("ok")
	return nil
}

func mintTokenCommand(c *cli.Context) error {
	token, err := auth.IssueHMACToken(
		[]byte(c.String("secret")),
		c.String("subject"),
		c.String("signer-id"),
		auth.Config{Issuer: c.String("issuer"), Audience: c.String("audience")},
		c.Duration("ttl"),
	)
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}
	fmt.Println(token)
	return nil
}
