package types

// Credentials holds a generated username/password pair stored in Secrets Manager
type Credentials struct {
	SecretARN string `json:"-"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}
