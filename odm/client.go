// Package odm implements the HTTP client for the external
// photogrammetry engine (a WebODM-style API). The client is stateless
// except for the session token obtained by Login.
package odm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/skybridge/errors"
)

// Task status codes reported by the engine
const (
	StatusQueued    = 10
	StatusRunning   = 20
	StatusFailed    = 30
	StatusCompleted = 40
	StatusCanceled  = 50
)

// Config holds connection settings for the processing engine.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Client talks to the processing engine API.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// Project is the engine's project resource.
type Project struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// TaskInfo describes a processing task on the engine.
type TaskInfo struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Status      int     `json:"status"`
	Progress    float64 `json:"running_progress"`
	ImagesCount int     `json:"images_count"`
}

// NewClient creates a processing engine client. Login must be called
// before any project or task operation.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, errors.WrapInvalid(err, "Client", "NewClient", "parse base url")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Login authenticates against the engine and stores the session token.
func (c *Client) Login(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return errors.WrapInvalid(err, "Client", "Login", "marshal credentials")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/token-auth/", bytes.NewReader(payload))
	if err != nil {
		return errors.WrapInvalid(err, "Client", "Login", "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "Client", "Login", "post credentials")
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return errors.WrapFatal(
			fmt.Errorf("%w: engine returned %s", errors.ErrAuthFailed, resp.Status),
			"Client", "Login", "authenticate")
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return errors.WrapFatal(err, "Client", "Login", "decode token response")
	}
	if body.Token == "" {
		return errors.WrapFatal(errors.ErrAuthFailed, "Client", "Login", "empty token in response")
	}

	c.mu.Lock()
	c.token = body.Token
	c.mu.Unlock()

	return nil
}

// Token returns the current session token (empty before Login).
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// CreateProject creates a project on the engine and returns its id.
func (c *Client) CreateProject(ctx context.Context, name, description string) (int, error) {
	payload, _ := json.Marshal(map[string]string{
		"name":        name,
		"description": description,
	})

	resp, err := c.do(ctx, http.MethodPost, "/api/projects/", "application/json", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	defer drainAndClose(resp.Body)

	if err := c.checkStatus(resp, "CreateProject"); err != nil {
		return 0, err
	}

	var project Project
	if err := json.NewDecoder(resp.Body).Decode(&project); err != nil {
		return 0, errors.WrapTransient(err, "Client", "CreateProject", "decode response")
	}

	return project.ID, nil
}

// CreateTask creates a task under a project using the engine's
// three-step protocol: initialize under a client-generated identifier,
// upload a file against it (the engine rejects fileless inits, so the
// caller passes a placeholder), then commit to obtain the real task.
// A failed step is not rolled back by the engine.
func (c *Client) CreateTask(
	ctx context.Context,
	projectID int,
	name string,
	optionsJSON string,
	placeholderName string,
	placeholder []byte,
) (string, error) {
	taskUUID := uuid.New().String()

	// Step 1: init
	form := url.Values{}
	form.Set("name", name)
	form.Set("options", optionsJSON)
	form.Set("partial", "true")

	initPath := fmt.Sprintf("/api/projects/%d/tasks/new/init/", projectID)
	req, err := c.newRequest(ctx, http.MethodPost, initPath,
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("set-uuid", taskUUID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.WrapTransient(err, "Client", "CreateTask", "init task")
	}
	drainAndClose(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.statusError(resp.StatusCode, resp.Status, "CreateTask", "init task")
	}

	// Step 2: upload the placeholder against the pending identifier
	uploadPath := fmt.Sprintf("/api/projects/%d/tasks/new/upload/%s/", projectID, taskUUID)
	if err := c.postImages(ctx, uploadPath, placeholderName, placeholder, "CreateTask"); err != nil {
		return "", err
	}

	// Step 3: commit to finalize the task
	commitPath := fmt.Sprintf("/api/projects/%d/tasks/new/commit/%s/", projectID, taskUUID)
	resp, err = c.do(ctx, http.MethodPost, commitPath, "", nil)
	if err != nil {
		return "", err
	}
	defer drainAndClose(resp.Body)

	if err := c.checkStatus(resp, "CreateTask"); err != nil {
		return "", err
	}

	var task TaskInfo
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return "", errors.WrapTransient(err, "Client", "CreateTask", "decode commit response")
	}
	if task.ID == "" {
		// Engines that echo nothing back keep the client-side identifier
		return taskUUID, nil
	}

	return task.ID, nil
}

// UploadImage adds one image to an existing task.
func (c *Client) UploadImage(ctx context.Context, projectID int, taskID, filename string, data []byte) error {
	path := fmt.Sprintf("/api/projects/%d/tasks/%s/upload/", projectID, taskID)
	return c.postImages(ctx, path, filename, data, "UploadImage")
}

// TaskInfo fetches the current state of a task.
func (c *Client) TaskInfo(ctx context.Context, projectID int, taskID string) (*TaskInfo, error) {
	path := fmt.Sprintf("/api/projects/%d/tasks/%s/", projectID, taskID)
	resp, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp.Body)

	if err := c.checkStatus(resp, "TaskInfo"); err != nil {
		return nil, err
	}

	var info TaskInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, errors.WrapTransient(err, "Client", "TaskInfo", "decode response")
	}

	return &info, nil
}

// CancelTask asks the engine to stop a running task.
func (c *Client) CancelTask(ctx context.Context, projectID int, taskID string) error {
	return c.taskAction(ctx, projectID, taskID, "cancel")
}

// RemoveTask deletes a task and its assets from the engine.
func (c *Client) RemoveTask(ctx context.Context, projectID int, taskID string) error {
	return c.taskAction(ctx, projectID, taskID, "remove")
}

func (c *Client) taskAction(ctx context.Context, projectID int, taskID, action string) error {
	path := fmt.Sprintf("/api/projects/%d/tasks/%s/%s/", projectID, taskID, action)
	resp, err := c.do(ctx, http.MethodPost, path, "", nil)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	return c.checkStatus(resp, action+" task")
}

// postImages sends a multipart form with a single "images" part.
func (c *Client) postImages(ctx context.Context, path, filename string, data []byte, op string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("images", filename)
	if err != nil {
		return errors.WrapInvalid(err, "Client", op, "build multipart form")
	}
	if _, err := part.Write(data); err != nil {
		return errors.WrapInvalid(err, "Client", op, "write multipart payload")
	}
	if err := writer.Close(); err != nil {
		return errors.WrapInvalid(err, "Client", op, "finalize multipart form")
	}

	resp, err := c.do(ctx, http.MethodPost, path, writer.FormDataContentType(), &body)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	return c.checkStatus(resp, op)
}

// newRequest builds an authenticated request against the engine.
func (c *Client) newRequest(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "newRequest", "build request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "JWT "+token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, contentType, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", method+" "+path, "send request")
	}

	return resp, nil
}

func (c *Client) checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return c.statusError(resp.StatusCode, resp.Status, op, "engine response")
}

func (c *Client) statusError(code int, status, op, action string) error {
	err := fmt.Errorf("engine returned %s", status)
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrNotAuthorized, err), "Client", op, action)
	case code >= 500:
		return errors.WrapTransient(err, "Client", op, action)
	default:
		return errors.WrapInvalid(err, "Client", op, action)
	}
}

// drainAndClose discards the remaining body so connections are reused.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	body.Close()
}
