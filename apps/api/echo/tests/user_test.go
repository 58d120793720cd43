package tests

import (
	"net/http"
	"testing"

	echoapi "github.com/trezcool/mtihani/apps/api/echo"
	"github.com/trezcool/mtihani/core/user"
)

func Test_userApi_login(t *testing.T) {
	usr := createUser(t, "Awe", "awe", "awe@test.cd", "LePass", user.StudentRoles, true)
	createUser(t, "Naughty", "ndog", "ndog@test.cd", "LePass", user.StudentRoles, false)

	tests := []httpTest{
		{
			name: "empty credentials", body: marchallObj(t, echoapi.LoginRequest{}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"username": "this field is required", "password": "this field is required"}),
		},
		{
			name: "unknown user", body: marchallObj(t, echoapi.LoginRequest{Username: "lol", Password: "lol"}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", body: marchallObj(t, echoapi.LoginRequest{Username: usr.Username, Password: "lol"}),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "deactivated account", body: marchallObj(t, echoapi.LoginRequest{Username: "ndog", Password: "LePass"}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{
			name: "login with username", body: marchallObj(t, echoapi.LoginRequest{Username: usr.Username, Password: "LePass"}),
			wantCode: http.StatusOK,
		},
		{
			name: "login with email", body: marchallObj(t, echoapi.LoginRequest{Username: usr.Email, Password: "LePass"}),
			wantCode: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/login", tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusOK {
				if rec.Code != http.StatusOK {
					t.Fatalf("failed! code = %v; body = %s", rec.Code, rec.Body.String())
				}
				var resp echoapi.LoginResponse
				decodeBody(t, rec, &resp)
				if resp.Token == "" {
					t.Error("expected a token")
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_retrieve(t *testing.T) {
	usr := createUser(t, "Kin", "kin", "kin@test.cd", "LePass", user.StudentRoles, true)
	other := createUser(t, "Mara", "mara", "mara@test.cd", "LePass", user.StudentRoles, true)
	admin := createUser(t, "Boss", "boss", "boss@test.cd", "LePass", user.AdminRoles, true)

	tests := []httpTest{
		{name: "Auth required", path: "/v1/users/" + usr.ID, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Get own account", path: "/v1/users/" + usr.ID, token: getToken(t, usr),
			wantCode: http.StatusOK, wantData: marchallObj(t, usr),
		},
		{
			name: "Get another account", path: "/v1/users/" + other.ID, token: getToken(t, usr),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{
			name: "Admin gets any account", path: "/v1/users/" + other.ID, token: getToken(t, admin),
			wantCode: http.StatusOK, wantData: marchallObj(t, other),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
