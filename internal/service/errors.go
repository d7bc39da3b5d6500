// Пакет service — бизнес-логика DocVault: сага загрузки, одобрения,
// верификация, аудит и публичный реестр.
package service

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки сервисного слоя.
var (
	// ErrNotFound — документ не найден.
	ErrNotFound = errors.New("документ не найден")
	// ErrDuplicate — документ с таким отпечатком уже зарегистрирован.
	ErrDuplicate = errors.New("документ с таким отпечатком уже зарегистрирован")
	// ErrAlreadyApproved — офицер уже одобрял этот документ.
	ErrAlreadyApproved = errors.New("офицер уже одобрял этот документ")
	// ErrForbidden — субъект не вправе выполнять операцию.
	ErrForbidden = errors.New("операция запрещена для этого субъекта")
	// ErrStorage — сбой blob-хранилища.
	ErrStorage = errors.New("сбой blob-хранилища")
	// ErrLedger — сбой транзакции ledger.
	ErrLedger = errors.New("сбой транзакции ledger")
	// ErrFileTooLarge — файл превышает допустимый размер.
	ErrFileTooLarge = errors.New("файл превышает допустимый размер")
	// ErrInvalidDocumentType — неизвестный тип документа.
	ErrInvalidDocumentType = errors.New("неизвестный тип документа")
)

// PrecheckError — документ отклонён предварительной проверкой.
// Возникает только когда проверка не пройдена И уверенность ниже порога:
// непройденная проверка с высокой уверенностью пропускается с предупреждением.
type PrecheckError struct {
	Confidence float64
	Issues     []string
}

func (e *PrecheckError) Error() string {
	return fmt.Sprintf("документ отклонён предварительной проверкой (уверенность %.2f): %s",
		e.Confidence, strings.Join(e.Issues, "; "))
}
