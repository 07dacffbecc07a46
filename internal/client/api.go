package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"campus-im/internal/delivery"
	"campus-im/internal/imerrors"
	"campus-im/internal/models"
)

// APIClient 调用 apiserver 的 REST 接口。它实现 delivery.Fetcher 和 delivery.Sender。
type APIClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewAPIClient 创建 APIClient；baseURL 形如 http://localhost:8081/api/v1。
func NewAPIClient(baseURL, token string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// do 发送请求并把 JSON 响应解码到 out。服务端错误还原为 AppError，网络错误视为 TransportUnavailable。
func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("编码请求体失败: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return imerrors.TransportUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var er errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Code == "" {
			if resp.StatusCode >= http.StatusInternalServerError {
				return imerrors.TransportUnavailable(fmt.Errorf("%s %s: %s", method, path, resp.Status))
			}
			return &imerrors.AppError{Code: imerrors.CodeInternal, Message: resp.Status, Status: resp.StatusCode}
		}
		return &imerrors.AppError{Code: er.Code, Message: er.Error, Status: resp.StatusCode}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("解码 %s %s 响应失败: %w", method, path, err)
	}
	return nil
}

func (c *APIClient) FetchRecent(ctx context.Context, conversationID uint, limit int) ([]*models.Message, error) {
	path := fmt.Sprintf("/conversations/%d/messages?limit=%d", conversationID, limit)
	var msgs []*models.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// FetchBefore 向前翻页。
func (c *APIClient) FetchBefore(ctx context.Context, conversationID uint, limit int, before models.Cursor) ([]*models.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("before", before.String())
	var msgs []*models.Message
	path := fmt.Sprintf("/conversations/%d/messages?%s", conversationID, q.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Send 发送消息；带 ReplyToID 时走回复接口。
func (c *APIClient) Send(ctx context.Context, conversationID uint, req delivery.SendRequest) (*models.Message, error) {
	path := fmt.Sprintf("/conversations/%d/messages", conversationID)
	if req.ReplyToID != 0 {
		path = fmt.Sprintf("/conversations/%d/replies", conversationID)
	}
	var msg models.Message
	if err := c.do(ctx, http.MethodPost, path, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *APIClient) ListConversations(ctx context.Context, archived bool) ([]*models.ConversationSummary, error) {
	var out []*models.ConversationSummary
	path := "/conversations?archived=" + strconv.FormatBool(archived)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) OpenDirect(ctx context.Context, userID uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations/direct", map[string]uint{"userId": userID}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *APIClient) MarkRead(ctx context.Context, conversationID uint) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/conversations/%d/read", conversationID), nil, nil)
}

// ListBlocked 返回当前用户屏蔽的人；Coordinator 用它过滤推送。
func (c *APIClient) ListBlocked(ctx context.Context) ([]*models.Block, error) {
	var out []*models.Block
	if err := c.do(ctx, http.MethodGet, "/blocks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) DeleteMessage(ctx context.Context, messageID uint) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/messages/%d", messageID), nil, nil)
}

func (c *APIClient) React(ctx context.Context, messageID uint, emoji string) ([]models.Reaction, error) {
	var out []models.Reaction
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/messages/%d/reaction", messageID), map[string]string{"emoji": emoji}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) SearchUsers(ctx context.Context, query string) ([]models.UserBasicInfo, error) {
	var out []models.UserBasicInfo
	if err := c.do(ctx, http.MethodGet, "/users/search?q="+url.QueryEscape(query), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
