package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials - неизвестный оператор или неверный пароль
var ErrBadCredentials = errors.New("неверное имя пользователя или пароль")

// HashPassword возвращает bcrypt-хеш пароля
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckPassword сравнивает пароль с bcrypt-хешем
func CheckPassword(hash string, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Operator - учётная запись из конфигурации
type Operator struct {
	PasswordHash string
	IsAdmin      bool
}

// Operators - статический список операторов (имя без учёта регистра)
type Operators map[string]Operator

// Authenticate проверяет имя и пароль, возвращает признак администратора
func (o Operators) Authenticate(username, password string) (bool, error) {
	op, ok := o[strings.ToLower(username)]
	if !ok || !CheckPassword(op.PasswordHash, password) {
		return false, ErrBadCredentials
	}
	return op.IsAdmin, nil
}
