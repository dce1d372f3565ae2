package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

const (
	// NotificationRetention is how long notifications stay in the inbox.
	NotificationRetention = 30 * 24 * time.Hour

	chatChannelSuffix = "_chat"
	emailSubjectLimit = 78
)

var (
	// ErrNotificationInvalidInput indicates the notification request failed validation.
	ErrNotificationInvalidInput = errors.New("notification: invalid input")
	// ErrNotificationNotFound indicates the recipient does not exist.
	ErrNotificationNotFound = errors.New("notification: not found")
)

// NotificationServiceDeps bundles collaborators for the notification bus.
type NotificationServiceDeps struct {
	Notifications repositories.NotificationRepository
	Users         repositories.UserRepository
	Publisher     NotificationPublisher
	Push          PushSender
	Renderer      TextRenderer
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        Logger
}

type notificationService struct {
	notifications repositories.NotificationRepository
	users         repositories.UserRepository
	publisher     NotificationPublisher
	push          PushSender
	renderer      TextRenderer
	clock         func() time.Time
	newID         func() string
	logger        Logger
}

var _ NotificationService = (*notificationService)(nil)

// NewNotificationService constructs the notification bus. Push is optional.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	switch {
	case deps.Notifications == nil:
		return nil, errors.New("notification service: notification repository is required")
	case deps.Users == nil:
		return nil, errors.New("notification service: user repository is required")
	case deps.Publisher == nil:
		return nil, errors.New("notification service: publisher is required")
	case deps.Renderer == nil:
		return nil, errors.New("notification service: renderer is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &notificationService{
		notifications: deps.Notifications,
		users:         deps.Users,
		publisher:     deps.Publisher,
		push:          deps.Push,
		renderer:      deps.Renderer,
		clock:         func() time.Time { return clock().UTC() },
		newID:         idGen,
		logger:        logger,
	}, nil
}

// Notify appends the notification to the log and delivers it to every recipient. Delivery
// failures are logged; the stored notification stays visible in the inbox.
func (s *notificationService) Notify(ctx context.Context, cmd NotifyCommand) (Notification, error) {
	if cmd.Section == "" {
		return Notification{}, fmt.Errorf("%w: section is required", ErrNotificationInvalidInput)
	}
	if strings.TrimSpace(cmd.TemplateKey) == "" {
		return Notification{}, fmt.Errorf("%w: template key is required", ErrNotificationInvalidInput)
	}
	recipients := uniqueIDs(cmd.UserIDs)
	if len(recipients) == 0 {
		return Notification{}, fmt.Errorf("%w: at least one recipient is required", ErrNotificationInvalidInput)
	}

	notification := Notification{
		ID:           "ntf_" + s.newID(),
		Section:      cmd.Section,
		ActionPath:   cmd.ActionPath,
		TemplateKey:  cmd.TemplateKey,
		Params:       cmd.Params,
		ObjectID:     cmd.ObjectID,
		RecipientIDs: recipients,
		Email:        cmd.Email,
		CreatedAt:    s.clock(),
	}
	if err := s.notifications.Insert(ctx, notification); err != nil {
		return Notification{}, s.mapRepositoryError(err)
	}

	users, err := s.users.GetMany(ctx, recipients)
	if err != nil {
		s.logger(ctx, "notification.recipients.failed", map[string]any{
			"notificationId": notification.ID,
			"error":          err.Error(),
		})
		return notification, nil
	}
	for _, user := range users {
		s.deliver(ctx, notification, user)
	}
	return notification, nil
}

func (s *notificationService) deliver(ctx context.Context, notification Notification, user domain.User) {
	text := s.renderer.Render(user.Language, notification.TemplateKey, notification.Params)
	channel := user.ID
	if notification.Section == domain.SectionChats {
		channel += chatChannelSuffix
	}
	message := NotificationMessage{
		Kind:           NotificationKindNew,
		Channel:        channel,
		UserID:         user.ID,
		NotificationID: notification.ID,
		Section:        string(notification.Section),
		ActionPath:     string(notification.ActionPath),
		Text:           text,
		ObjectID:       notification.ObjectID,
		CreatedAt:      notification.CreatedAt,
	}
	if err := s.publisher.PublishNotification(ctx, message); err != nil {
		s.logger(ctx, "notification.publish.failed", map[string]any{
			"notificationId": notification.ID,
			"userId":         user.ID,
			"error":          err.Error(),
		})
	}

	if s.push != nil && len(user.DeviceTokens) > 0 {
		result, err := s.push.Send(ctx, user.DeviceTokens, string(notification.Section), text, map[string]string{
			"notificationId": notification.ID,
			"section":        string(notification.Section),
			"actionPath":     string(notification.ActionPath),
			"objectId":       notification.ObjectID,
		})
		switch {
		case err != nil:
			s.logger(ctx, "notification.push.failed", map[string]any{"userId": user.ID, "error": err.Error()})
		case len(result.Stale) > 0:
			s.logger(ctx, "notification.push.stale_tokens", map[string]any{"userId": user.ID, "count": len(result.Stale)})
		}
	}

	if notification.Email && strings.TrimSpace(user.Email) != "" {
		email := EmailMessage{
			NotificationID: notification.ID,
			To:             user.Email,
			Name:           user.FullName(),
			Language:       user.Language,
			Subject:        emailSubject(text),
			Body:           text,
		}
		if err := s.publisher.PublishEmail(ctx, email); err != nil {
			s.logger(ctx, "notification.email.failed", map[string]any{
				"notificationId": notification.ID,
				"userId":         user.ID,
				"error":          err.Error(),
			})
		}
	}
}

func (s *notificationService) ListForUser(ctx context.Context, userID string, page Pagination) (domain.CursorPage[NotificationView], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[NotificationView]{}, fmt.Errorf("%w: user id is required", ErrNotificationInvalidInput)
	}
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return domain.CursorPage[NotificationView]{}, s.mapRepositoryError(err)
	}
	result, err := s.notifications.ListForUser(ctx, userID, page)
	if err != nil {
		return domain.CursorPage[NotificationView]{}, s.mapRepositoryError(err)
	}
	ids := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		ids = append(ids, item.ID)
	}
	seen := map[string]bool{}
	if len(ids) > 0 {
		if seen, err = s.notifications.SeenBy(ctx, userID, ids); err != nil {
			return domain.CursorPage[NotificationView]{}, s.mapRepositoryError(err)
		}
	}

	views := make([]NotificationView, 0, len(result.Items))
	for _, item := range result.Items {
		views = append(views, NotificationView{
			ID:         item.ID,
			Section:    item.Section,
			ActionPath: item.ActionPath,
			Text:       s.renderer.Render(user.Language, item.TemplateKey, item.Params),
			ObjectID:   item.ObjectID,
			Seen:       seen[item.ID],
			CreatedAt:  item.CreatedAt,
		})
	}
	return domain.CursorPage[NotificationView]{Items: views, NextPageToken: result.NextPageToken}, nil
}

func (s *notificationService) MarkSeen(ctx context.Context, userID string, notificationIDs []string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrNotificationInvalidInput)
	}
	ids := uniqueIDs(notificationIDs)
	if len(ids) == 0 {
		return nil
	}
	return s.mapRepositoryError(s.notifications.MarkSeen(ctx, userID, ids, s.clock()))
}

// ReassignObject moves operations notifications from one booking to another and asks every
// affected user to refetch the inbox.
func (s *notificationService) ReassignObject(ctx context.Context, fromID, toID string) error {
	fromID, toID = strings.TrimSpace(fromID), strings.TrimSpace(toID)
	if fromID == "" || toID == "" {
		return fmt.Errorf("%w: object ids are required", ErrNotificationInvalidInput)
	}
	changed, err := s.notifications.ReassignObject(ctx, fromID, toID, domain.OperationsSections())
	if err != nil {
		return s.mapRepositoryError(err)
	}
	s.RequestRefetch(ctx, changed)
	s.logger(ctx, "notification.reassigned", map[string]any{"from": fromID, "to": toID, "count": len(changed)})
	return nil
}

// RequestRefetch tells every recipient of notifications to reload their inbox. Publish
// failures are logged.
func (s *notificationService) RequestRefetch(ctx context.Context, notifications []Notification) {
	var affected []string
	for _, n := range notifications {
		affected = append(affected, n.RecipientIDs...)
	}
	now := s.clock()
	for _, userID := range uniqueIDs(affected) {
		message := NotificationMessage{Kind: NotificationKindFetch, Channel: userID, UserID: userID, CreatedAt: now}
		if err := s.publisher.PublishNotification(ctx, message); err != nil {
			s.logger(ctx, "notification.fetch.publish.failed", map[string]any{"userId": userID, "error": err.Error()})
		}
	}
}

func (s *notificationService) PruneOlderThan(ctx context.Context, age time.Duration) (int, error) {
	if age <= 0 {
		age = NotificationRetention
	}
	deleted, err := s.notifications.DeleteOlderThan(ctx, s.clock().Add(-age))
	if err != nil {
		return deleted, s.mapRepositoryError(err)
	}
	return deleted, nil
}

func (s *notificationService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrNotificationNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("notification: repository unavailable: %w", err)
		}
	}
	return err
}

func emailSubject(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	if utf8.RuneCountInString(line) <= emailSubjectLimit {
		return line
	}
	runes := []rune(line)
	return strings.TrimSpace(string(runes[:emailSubjectLimit-3])) + "..."
}

// uniqueIDs trims, drops blanks and removes duplicates keeping first-seen order.
func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
