package signing

import (
	"context"
	"errors"
	"fmt"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/directory"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/identity"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/notification"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/timestamp"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
)

// notify dispatches the signed-document notice in the background and reports
// whether a dispatch was started
func (s *Service) notify(record *types.EvidenceRecord) bool {
	if s.deps.Users == nil && s.deps.Documents == nil {
		return false
	}

	rec := record.Clone()
	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NotifyTimeout)
		defer cancel()

		s.sendSignedNotices(ctx, rec)
	}()
	return true
}

func (s *Service) sendSignedNotices(ctx context.Context, rec *types.EvidenceRecord) {
	sugar := s.logger.Sugar()
	body := signedNoticeBody(rec)

	var recipients []string
	seen := make(map[string]struct{})
	add := func(c *types.Contact) {
		if c == nil || c.Email == "" {
			return
		}
		if _, ok := seen[c.Email]; ok {
			return
		}
		seen[c.Email] = struct{}{}
		recipients = append(recipients, c.Email)
	}

	if s.deps.Users != nil {
		c, err := s.deps.Users.LookupContactByIdentity(ctx, rec.SignerID)
		if err != nil && !errors.Is(err, directory.ErrContactNotFound) {
			sugar.Warnw("Signer contact lookup failed", "signature_id", rec.ID, "error", err)
		}
		add(c)
	}
	if s.deps.Documents != nil {
		c, err := s.deps.Documents.LookupSenderContact(ctx, rec.DocumentID)
		if err != nil && !errors.Is(err, directory.ErrContactNotFound) {
			sugar.Warnw("Sender contact lookup failed", "signature_id", rec.ID, "error", err)
		}
		add(c)
	}

	if len(recipients) == 0 {
		sugar.Debugw("No contacts to notify", "signature_id", rec.ID)
		return
	}

	for _, to := range recipients {
		if err := s.deps.Channel.Send(ctx, notification.MethodEmail, to, body); err != nil {
			sugar.Warnw("Failed to send signed-document notice",
				"signature_id", rec.ID,
				"document_id", rec.DocumentID,
				"error", err,
			)
			continue
		}
		sugar.Debugw("Signed-document notice sent", "signature_id", rec.ID)
	}
}

func signedNoticeBody(rec *types.EvidenceRecord) string {
	title := rec.ContractTitle
	if title == "" {
		title = rec.DocumentID
	}
	return fmt.Sprintf(
		"O documento %q (%s) foi assinado eletronicamente por %s (CPF %s) em %s.\n"+
			"Identificador da assinatura: %s\nHash SHA-256: %s",
		title,
		rec.DocumentID,
		rec.SignerName,
		identity.Format(rec.SignerID),
		timestamp.FormatTimestamp(rec.SignedAt),
		rec.ID,
		rec.SignatureData.Hash,
	)
}
