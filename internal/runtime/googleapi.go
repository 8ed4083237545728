// internal/runtime/googleapi.go: adapts *gmail.Service to our small interface
package runtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	gc "github.com/joshsymonds/inboxrules/internal/gmail"
)

const user = "me"

type googleClient struct{ svc *gmail.Service }

func NewGoogleAPIClient(svc *gmail.Service) gc.Client { return &googleClient{svc} }

func (g *googleClient) List(ctx context.Context, q gc.Query, pageToken string, pageSize int) (gc.ListPage, error) {
	call := g.svc.Users.Messages.List(user).Q(q.Raw).MaxResults(int64(pageSize))
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return gc.ListPage{}, err
	}
	ids := make([]gc.MessageID, 0, len(res.Messages))
	for _, m := range res.Messages {
		ids = append(ids, gc.MessageID(m.Id))
	}
	return gc.ListPage{IDs: ids, NextPageToken: res.NextPageToken}, nil
}

func (g *googleClient) GetMessage(ctx context.Context, id gc.MessageID) (gc.Message, error) {
	msg, err := g.svc.Users.Messages.Get(user, string(id)).Format("full").Context(ctx).Do()
	if err != nil {
		return gc.Message{}, err
	}
	out := gc.Message{
		ID:           id,
		ThreadID:     msg.ThreadId,
		LabelIDs:     toLabelIDs(msg.LabelIds),
		Headers:      map[string]string{},
		InternalDate: time.UnixMilli(msg.InternalDate),
	}
	if msg.Payload == nil {
		return out, nil
	}
	for _, hd := range msg.Payload.Headers {
		out.Headers[http.CanonicalHeaderKey(hd.Name)] = hd.Value
	}
	out.TextBody = findBody(msg.Payload, "text/plain")
	out.HTMLBody = findBody(msg.Payload, "text/html")
	return out, nil
}

func (g *googleClient) Modify(ctx context.Context, id gc.MessageID, ops gc.ModifyOps) error {
	req := &gmail.ModifyMessageRequest{
		AddLabelIds:    toStrings(ops.AddLabels),
		RemoveLabelIds: toStrings(ops.RemoveLabels),
	}
	_, err := g.svc.Users.Messages.Modify(user, string(id), req).Context(ctx).Do()
	return err
}

func (g *googleClient) ListLabels(ctx context.Context) ([]gc.Label, error) {
	lr, err := g.svc.Users.Labels.List(user).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	out := make([]gc.Label, 0, len(lr.Labels))
	for _, l := range lr.Labels {
		out = append(out, gc.Label{ID: gc.LabelID(l.Id), Name: l.Name})
	}
	return out, nil
}

func (g *googleClient) CreateLabel(ctx context.Context, name string, vis gc.Visibility) (gc.LabelID, error) {
	label := &gmail.Label{
		Name:                  name,
		LabelListVisibility:   vis.LabelList,
		MessageListVisibility: vis.MessageList,
	}
	created, err := g.svc.Users.Labels.Create(user, label).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			return "", fmt.Errorf("create label %q: %w", name, gc.ErrLabelConflict)
		}
		return "", fmt.Errorf("create label %q: %w", name, err)
	}
	return gc.LabelID(created.Id), nil
}

// findBody walks the MIME tree depth-first and returns the first part of
// the wanted type.
func findBody(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if strings.EqualFold(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		return decodeBody(part.Body.Data)
	}
	for _, child := range part.Parts {
		if body := findBody(child, mimeType); body != "" {
			return body
		}
	}
	return ""
}

func decodeBody(data string) string {
	raw, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		// Gmail occasionally omits padding.
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return ""
		}
	}
	return strings.ToValidUTF8(string(raw), "")
}

func toStrings(ids []gc.LabelID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func toLabelIDs(ids []string) []gc.LabelID {
	out := make([]gc.LabelID, len(ids))
	for i, id := range ids {
		out[i] = gc.LabelID(id)
	}
	return out
}
