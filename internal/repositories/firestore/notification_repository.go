package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/shuryhin-oleksandr/acemaven-sub000/internal/domain"
	pfirestore "github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/firestore"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/platform/pagination"
	"github.com/shuryhin-oleksandr/acemaven-sub000/internal/repositories"
)

const (
	notificationsCollection    = "notifications"
	notificationSeenCollection = "notificationSeen"
)

// NotificationRepository stores the notification log. Seen cursors live in a sibling
// collection keyed by notification and user so marking is idempotent.
type NotificationRepository struct {
	notifications *pfirestore.Collection[notificationDocument]
	seen          *pfirestore.Collection[seenDocument]
}

var _ repositories.NotificationRepository = (*NotificationRepository)(nil)

// NewNotificationRepository constructs a Firestore-backed notification repository.
func NewNotificationRepository(provider *pfirestore.Provider) (*NotificationRepository, error) {
	if provider == nil {
		return nil, errors.New("notification repository requires firestore provider")
	}
	return &NotificationRepository{
		notifications: pfirestore.NewCollection[notificationDocument](provider, notificationsCollection),
		seen:          pfirestore.NewCollection[seenDocument](provider, notificationSeenCollection),
	}, nil
}

func (r *NotificationRepository) Insert(ctx context.Context, n domain.Notification) error {
	return r.notifications.Create(ctx, n.ID, newNotificationDocument(n))
}

// ListForUser pages newest first. The token carries the last item's creation time and id.
func (r *NotificationRepository) ListForUser(ctx context.Context, userID string, page domain.Pagination) (domain.CursorPage[domain.Notification], error) {
	cursor, err := pagination.DecodeToken(page.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Notification]{}, err
	}
	size := pagination.PageSize(page.PageSize)
	docs, err := r.notifications.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("recipientIds", "array-contains", userID).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt.UTC(), cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Notification]{}, err
	}

	result := domain.CursorPage[domain.Notification]{Items: make([]domain.Notification, 0, min(len(docs), size))}
	for i, doc := range docs {
		if i == size {
			break
		}
		result.Items = append(result.Items, doc.Data.toDomain(doc.ID))
	}
	if len(docs) > size {
		last := result.Items[len(result.Items)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Notification]{}, err
		}
		result.NextPageToken = token
	}
	return result, nil
}

func (r *NotificationRepository) SeenBy(ctx context.Context, userID string, notificationIDs []string) (map[string]bool, error) {
	ids := make([]string, 0, len(notificationIDs))
	for _, id := range notificationIDs {
		ids = append(ids, seenID(id, userID))
	}
	docs, err := r.seen.GetAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(docs))
	for _, doc := range docs {
		out[doc.Data.NotificationID] = true
	}
	return out, nil
}

func (r *NotificationRepository) MarkSeen(ctx context.Context, userID string, notificationIDs []string, at time.Time) error {
	if len(notificationIDs) == 0 {
		return nil
	}
	client, err := r.seen.Client(ctx)
	if err != nil {
		return err
	}
	coll := client.Collection(notificationSeenCollection)
	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(notificationIDs))
	for _, id := range notificationIDs {
		job, err := writer.Set(coll.Doc(seenID(id, userID)), seenDocument{NotificationID: id, UserID: userID, SeenAt: at.UTC()})
		if err != nil {
			writer.End()
			return pfirestore.WrapError(notificationSeenCollection+".mark", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()
	return joinJobErrors(notificationSeenCollection+".mark", jobs)
}

func (r *NotificationRepository) ReassignObject(ctx context.Context, fromID, toID string, sections []domain.NotificationSection) ([]domain.Notification, error) {
	if fromID == "" || len(sections) == 0 {
		return nil, nil
	}
	docs, err := r.notifications.Query(ctx, objectInSections(fromID, sections))
	if err != nil || len(docs) == 0 {
		return nil, err
	}

	client, err := r.notifications.Client(ctx)
	if err != nil {
		return nil, err
	}
	coll := client.Collection(notificationsCollection)
	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	changed := make([]domain.Notification, 0, len(docs))
	for _, doc := range docs {
		job, err := writer.Update(coll.Doc(doc.ID), []firestore.Update{{Path: "objectId", Value: toID}})
		if err != nil {
			writer.End()
			return nil, pfirestore.WrapError(notificationsCollection+".reassign", err)
		}
		jobs = append(jobs, job)
		n := doc.Data.toDomain(doc.ID)
		n.ObjectID = toID
		changed = append(changed, n)
	}
	writer.End()
	if err := joinJobErrors(notificationsCollection+".reassign", jobs); err != nil {
		return nil, err
	}
	return changed, nil
}

// DeleteOlderThan removes notifications and seen cursors created before cutoff.
func (r *NotificationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	deleted, err := r.notifications.DeleteWhere(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("createdAt", "<", cutoff.UTC())
	})
	if err != nil {
		return deleted, err
	}
	if _, err := r.seen.DeleteWhere(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("seenAt", "<", cutoff.UTC())
	}); err != nil {
		return deleted, fmt.Errorf("delete seen cursors: %w", err)
	}
	return deleted, nil
}

func objectInSections(objectID string, sections []domain.NotificationSection) pfirestore.QueryBuilder {
	names := make([]string, 0, len(sections))
	for _, section := range sections {
		names = append(names, string(section))
	}
	return func(q firestore.Query) firestore.Query {
		return q.Where("objectId", "==", objectID).Where("section", "in", names)
	}
}

func seenID(notificationID, userID string) string {
	return notificationID + "_" + userID
}

type notificationDocument struct {
	Section      string            `firestore:"section"`
	ActionPath   string            `firestore:"actionPath"`
	TemplateKey  string            `firestore:"templateKey"`
	Params       map[string]string `firestore:"params,omitempty"`
	ObjectID     string            `firestore:"objectId"`
	RecipientIDs []string          `firestore:"recipientIds"`
	Email        bool              `firestore:"email"`
	CreatedAt    time.Time         `firestore:"createdAt"`
}

type seenDocument struct {
	NotificationID string    `firestore:"notificationId"`
	UserID         string    `firestore:"userId"`
	SeenAt         time.Time `firestore:"seenAt"`
}

func newNotificationDocument(n domain.Notification) notificationDocument {
	return notificationDocument{
		Section:      string(n.Section),
		ActionPath:   string(n.ActionPath),
		TemplateKey:  n.TemplateKey,
		Params:       n.Params,
		ObjectID:     n.ObjectID,
		RecipientIDs: n.RecipientIDs,
		Email:        n.Email,
		CreatedAt:    n.CreatedAt.UTC(),
	}
}

func (d notificationDocument) toDomain(id string) domain.Notification {
	return domain.Notification{
		ID:           id,
		Section:      domain.NotificationSection(d.Section),
		ActionPath:   domain.ActionPath(d.ActionPath),
		TemplateKey:  d.TemplateKey,
		Params:       d.Params,
		ObjectID:     d.ObjectID,
		RecipientIDs: d.RecipientIDs,
		Email:        d.Email,
		CreatedAt:    d.CreatedAt.UTC(),
	}
}
