package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lumenworks/backoffice/internal/admins"
	"github.com/lumenworks/backoffice/internal/auth"
	"github.com/lumenworks/backoffice/internal/content"
	"github.com/lumenworks/backoffice/internal/server"
)

const (
	integrationSigningSecret = "integration-secret"
	integrationAccessKey     = "integration-access-key"
	integrationAdminID       = "admin-integration"
	jsonContentType          = "application/json"
)

func newIntegrationServer(testContext *testing.T) *httptest.Server {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&content.Record{}, &content.SetMember{}, &admins.Admin{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	contentService, err := content.NewService(content.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: content.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build content service: %v", err)
	}
	adminRegistry, err := admins.NewRegistry(admins.RegistryConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build admin registry: %v", err)
	}
	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(integrationSigningSecret),
		AccessKey:     []byte(integrationAccessKey),
		Issuer:        "backoffice-auth",
		Audience:      "backoffice-api",
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenIssuer:    tokenIssuer,
		ContentService: contentService,
		Admins:         adminRegistry,
		Logger:         zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return testServer
}

func doAuthorizedJSON(testContext *testing.T, method, url, token string, payload any) *http.Response {
	testContext.Helper()
	var body *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			testContext.Fatalf("failed to encode payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}
	request, err := http.NewRequest(method, url, body)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	return response
}

func decodeJSONBody(testContext *testing.T, response *http.Response, target any) {
	testContext.Helper()
	defer response.Body.Close()
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		testContext.Fatalf("failed to decode response: %v", err)
	}
}

func loginForToken(testContext *testing.T, baseURL string) string {
	testContext.Helper()
	response := doAuthorizedJSON(testContext, http.MethodPost, baseURL+"/auth/login", "", map[string]any{
		"admin_id":   integrationAdminID,
		"access_key": integrationAccessKey,
	})
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected login status: %d", response.StatusCode)
	}
	var loginPayload struct {
		AccessToken string `json:"access_token"`
	}
	decodeJSONBody(testContext, response, &loginPayload)
	if loginPayload.AccessToken == "" {
		testContext.Fatalf("expected access token in login response")
	}
	return loginPayload.AccessToken
}

func submitNewRecord(testContext *testing.T, baseURL, token, kind string, fields map[string]any) string {
	testContext.Helper()

	openResp := doAuthorizedJSON(testContext, http.MethodPost, baseURL+"/panel/open", token, map[string]any{
		"mode": "create",
		"kind": kind,
	})
	if openResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected open status: %d", openResp.StatusCode)
	}
	openResp.Body.Close()

	for field, value := range fields {
		fieldResp := doAuthorizedJSON(testContext, http.MethodPost, baseURL+"/panel/field", token, map[string]any{
			"field": field,
			"value": value,
		})
		if fieldResp.StatusCode != http.StatusOK {
			testContext.Fatalf("unexpected field status for %q: %d", field, fieldResp.StatusCode)
		}
		fieldResp.Body.Close()
	}

	submitResp := doAuthorizedJSON(testContext, http.MethodPost, baseURL+"/panel/submit", token, map[string]any{})
	if submitResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected submit status: %d", submitResp.StatusCode)
	}
	var submitPayload struct {
		RecordID string `json:"record_id"`
	}
	decodeJSONBody(testContext, submitResp, &submitPayload)
	if submitPayload.RecordID == "" {
		testContext.Fatalf("expected record id in submit response")
	}
	return submitPayload.RecordID
}

func TestAdminConsoleFlow(testContext *testing.T) {
	testServer := newIntegrationServer(testContext)
	token := loginForToken(testContext, testServer.URL)

	// Create a header through the panel session.
	headerID := submitNewRecord(testContext, testServer.URL, token, "header", map[string]any{
		"title":   "Welcome",
		"visible": true,
	})

	listResp := doAuthorizedJSON(testContext, http.MethodGet, testServer.URL+"/collections/header", token, nil)
	if listResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected list status: %d", listResp.StatusCode)
	}
	var listPayload struct {
		Records []struct {
			RecordID string         `json:"record_id"`
			Fields   map[string]any `json:"fields"`
		} `json:"records"`
	}
	decodeJSONBody(testContext, listResp, &listPayload)
	if len(listPayload.Records) != 1 || listPayload.Records[0].RecordID != headerID {
		testContext.Fatalf("expected created header in listing, got %#v", listPayload.Records)
	}
	if title, _ := listPayload.Records[0].Fields["title"].(string); title != "Welcome" {
		testContext.Fatalf("expected persisted title, got %#v", listPayload.Records[0].Fields)
	}

	// Nest a child menu under a parent and read the tree back.
	parentMenuID := submitNewRecord(testContext, testServer.URL, token, "menu", map[string]any{
		"label": "Products",
	})
	submitNewRecord(testContext, testServer.URL, token, "menu", map[string]any{
		"label":     "Catalog",
		"parent_id": parentMenuID,
		"position":  1,
	})

	treeResp := doAuthorizedJSON(testContext, http.MethodGet, testServer.URL+"/collections/menu/tree", token, nil)
	if treeResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected tree status: %d", treeResp.StatusCode)
	}
	var treePayload struct {
		Roots []struct {
			RecordID string `json:"record_id"`
			Children []struct {
				RecordID string `json:"record_id"`
				Depth    int    `json:"depth"`
			} `json:"children"`
		} `json:"roots"`
	}
	decodeJSONBody(testContext, treeResp, &treePayload)
	if len(treePayload.Roots) != 1 || treePayload.Roots[0].RecordID != parentMenuID {
		testContext.Fatalf("expected single menu root, got %#v", treePayload.Roots)
	}
	if len(treePayload.Roots[0].Children) != 1 || treePayload.Roots[0].Children[0].Depth != 1 {
		testContext.Fatalf("expected nested child menu, got %#v", treePayload.Roots[0].Children)
	}

	// Build an album with media members, then replace the membership set.
	albumID := submitNewRecord(testContext, testServer.URL, token, "album", map[string]any{
		"name": "Launch Party",
	})
	mediaIDs := make([]string, 0, 3)
	for index := 0; index < 3; index++ {
		mediaID := submitNewRecord(testContext, testServer.URL, token, "media", map[string]any{
			"file_name": fmt.Sprintf("photo-%d.jpg", index),
			"position":  index,
		})
		mediaIDs = append(mediaIDs, mediaID)
	}

	firstDesired := []string{mediaIDs[0], mediaIDs[1]}
	replaceResp := doAuthorizedJSON(testContext, http.MethodPut, testServer.URL+"/sets/"+albumID+"/members", token, map[string]any{
		"desired": firstDesired,
	})
	if replaceResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected replace status: %d", replaceResp.StatusCode)
	}
	replaceResp.Body.Close()

	secondDesired := []string{mediaIDs[1], mediaIDs[2]}
	replaceResp = doAuthorizedJSON(testContext, http.MethodPut, testServer.URL+"/sets/"+albumID+"/members", token, map[string]any{
		"desired": secondDesired,
	})
	if replaceResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected second replace status: %d", replaceResp.StatusCode)
	}
	var replacePayload struct {
		Result struct {
			Added   []string `json:"added"`
			Removed []string `json:"removed"`
		} `json:"result"`
	}
	decodeJSONBody(testContext, replaceResp, &replacePayload)
	if len(replacePayload.Result.Added) != 1 || replacePayload.Result.Added[0] != mediaIDs[2] {
		testContext.Fatalf("expected single addition of %s, got %#v", mediaIDs[2], replacePayload.Result.Added)
	}
	if len(replacePayload.Result.Removed) != 1 || replacePayload.Result.Removed[0] != mediaIDs[0] {
		testContext.Fatalf("expected single removal of %s, got %#v", mediaIDs[0], replacePayload.Result.Removed)
	}

	membersResp := doAuthorizedJSON(testContext, http.MethodGet, testServer.URL+"/sets/"+albumID+"/members", token, nil)
	if membersResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected members status: %d", membersResp.StatusCode)
	}
	var membersPayload struct {
		Members []string `json:"members"`
	}
	decodeJSONBody(testContext, membersResp, &membersPayload)
	if len(membersPayload.Members) != 2 {
		testContext.Fatalf("expected two members after replace, got %v", membersPayload.Members)
	}
	seen := map[string]bool{}
	for _, member := range membersPayload.Members {
		seen[member] = true
	}
	if !seen[mediaIDs[1]] || !seen[mediaIDs[2]] {
		testContext.Fatalf("unexpected membership after replace: %v", membersPayload.Members)
	}

	// Drafts survive closing the panel without submitting.
	openResp := doAuthorizedJSON(testContext, http.MethodPost, testServer.URL+"/panel/open", token, map[string]any{
		"mode": "create",
		"kind": "office",
	})
	if openResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected office open status: %d", openResp.StatusCode)
	}
	openResp.Body.Close()
	fieldResp := doAuthorizedJSON(testContext, http.MethodPost, testServer.URL+"/panel/field", token, map[string]any{
		"field": "name",
		"value": "Downtown",
	})
	fieldResp.Body.Close()
	closeResp := doAuthorizedJSON(testContext, http.MethodPost, testServer.URL+"/panel/close", token, nil)
	closeResp.Body.Close()

	reopenResp := doAuthorizedJSON(testContext, http.MethodPost, testServer.URL+"/panel/open", token, map[string]any{
		"mode": "create",
		"kind": "office",
	})
	if reopenResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected office reopen status: %d", reopenResp.StatusCode)
	}
	var reopenPayload struct {
		Fields map[string]any `json:"fields"`
	}
	decodeJSONBody(testContext, reopenResp, &reopenPayload)
	if name, _ := reopenPayload.Fields["name"].(string); name != "Downtown" {
		testContext.Fatalf("expected draft to survive close, got %#v", reopenPayload.Fields)
	}
}
