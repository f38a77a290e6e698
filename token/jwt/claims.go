package jwt

import (
	"bytes"
	"encoding/json"
	"fmt"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims are the fields the backend embeds in an access token. They are
// read without verifying the signature and are never authoritative: the
// server decides whether a call is authorized.
type Claims struct {
	ID             FlexString `json:"id"`             // Backend user id
	Email          string     `json:"email"`          // Login email
	UserName       string     `json:"userName"`       // Display user name
	Role           string     `json:"role"`           // Role used by the dashboard to gate pages
	EmployeeName   string     `json:"employeeName"`   // Linked employee record name
	EmployeeNumber FlexString `json:"employeeNumber"` // Linked employee record number
	jwtlib.RegisteredClaims
}

// FlexString accepts a JSON string or number. Ids come back as either
// depending on the backend version.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string {
	return string(f)
}
