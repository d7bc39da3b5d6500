// Пакет model — доменные модели DocVault.
// Document — маппинг таблицы document_registry (зеркало реестра документов).
package model

import "time"

// Типы документов, принимаемые реестром.
const (
	DocTypeBirthCertificate    = "birth_certificate"
	DocTypeLandTitle           = "land_title"
	DocTypeAcademicCredential  = "academic_credential"
	DocTypePassport            = "passport"
	DocTypeCourtOrder          = "court_order"
	DocTypeNationalID          = "national_id"
	DocTypeMarriageCertificate = "marriage_certificate"
)

// Ведомства, за которыми закреплены типы документов.
const (
	AgencyBirthsDeaths = "births_deaths"
	AgencyLandRegistry = "land_registry"
	AgencyEducation    = "education"
	AgencyImmigration  = "immigration"
	AgencyCourts       = "courts"
)

// agencyByDocType — закрепление типа документа за ведомством.
// Офицер ведомства может одобрять только документы своего типа.
var agencyByDocType = map[string]string{
	DocTypeBirthCertificate:    AgencyBirthsDeaths,
	DocTypeMarriageCertificate: AgencyBirthsDeaths,
	DocTypeLandTitle:           AgencyLandRegistry,
	DocTypeAcademicCredential:  AgencyEducation,
	DocTypePassport:            AgencyImmigration,
	DocTypeNationalID:          AgencyImmigration,
	DocTypeCourtOrder:          AgencyCourts,
}

// ValidDocumentType проверяет, входит ли тип документа в допустимый набор.
func ValidDocumentType(docType string) bool {
	_, ok := agencyByDocType[docType]
	return ok
}

// AgencyForDocType возвращает ведомство, ответственное за тип документа.
// Пустая строка — неизвестный тип.
func AgencyForDocType(docType string) string {
	return agencyByDocType[docType]
}

// Document — запись документа в зеркальном реестре document_registry.
// Первичный ключ — Fingerprint (SHA-256 содержимого файла, 64 hex-символа).
// Источником истины по одобрениям и верификации является ledger,
// зеркало периодически сверяется с ним (см. ApprovalService.Repair).
type Document struct {
	// Fingerprint — SHA-256 отпечаток содержимого файла (64 hex)
	Fingerprint string `json:"fingerprint"`
	// Owner — идентификатор владельца (sub из JWT)
	Owner string `json:"owner"`
	// Filename — оригинальное имя файла
	Filename string `json:"filename"`
	// ContentType — MIME-тип файла
	ContentType string `json:"content_type"`
	// Size — размер файла в байтах
	Size int64 `json:"size"`
	// DocumentType — тип документа (birth_certificate, land_title, ...)
	DocumentType string `json:"document_type"`
	// Agency — ведомство, ответственное за одобрение
	Agency string `json:"agency"`
	// Description — описание документа (опционально)
	Description *string `json:"description,omitempty"`
	// BlobKey — ключ объекта в blob-хранилище (owner/fingerprint/filename).
	// В JSON-ответы не попадает: внутренняя координата хранилища.
	BlobKey string `json:"-"`
	// TxRef — ссылка на транзакцию анкеровки в ledger
	TxRef string `json:"tx_ref"`
	// Encrypted — файл зашифрован перед сохранением (ключ у владельца)
	Encrypted bool `json:"encrypted"`
	// PrecheckPassed — вердикт precheck-сервиса. NULL — precheck был
	// недоступен при загрузке. Поле неизменяемо после создания записи.
	PrecheckPassed *bool `json:"precheck_passed,omitempty"`
	// PrecheckConfidence — уверенность precheck в вердикте, [0, 1]
	PrecheckConfidence *float64 `json:"precheck_confidence,omitempty"`
	// PrecheckIssues — замечания precheck к содержимому
	PrecheckIssues []string `json:"precheck_issues,omitempty"`
	// Approvers — идентификаторы офицеров, одобривших документ
	Approvers []string `json:"approvers"`
	// ApprovalCount — количество одобрений (len(Approvers), денормализовано)
	ApprovalCount int `json:"approval_count"`
	// RequiredApprovals — сколько одобрений нужно для верификации
	RequiredApprovals int `json:"required_approvals"`
	// IsVerified — ledger подтвердил верификацию документа
	IsVerified bool `json:"is_verified"`
	// UploaderIPHash — солёный SHA-256 хеш IP загрузившего (сырой IP не
	// хранится). В JSON-ответы не попадает.
	UploaderIPHash string `json:"-"`
	// CreatedAt — время создания записи
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time `json:"updated_at"`
}

// PublicView — публичная проекция документа для открытого реестра.
// Не содержит owner, blob key и другие приватные поля.
type PublicView struct {
	Fingerprint   string    `json:"fingerprint"`
	DocumentType  string    `json:"document_type"`
	Agency        string    `json:"agency"`
	IsVerified    bool      `json:"is_verified"`
	ApprovalCount int       `json:"approval_count"`
	AnchoredAt    time.Time `json:"anchored_at"`
}

// Public возвращает публичную проекцию документа.
func (d *Document) Public() PublicView {
	return PublicView{
		Fingerprint:   d.Fingerprint,
		DocumentType:  d.DocumentType,
		Agency:        d.Agency,
		IsVerified:    d.IsVerified,
		ApprovalCount: d.ApprovalCount,
		AnchoredAt:    d.CreatedAt,
	}
}
