package numbering

// DocumentType identifies the kind of fiscal document a number is minted for.
type DocumentType string

const (
	DocumentTypeInvoice    DocumentType = "INVOICE"
	DocumentTypeCreditNote DocumentType = "CREDIT_NOTE"
	DocumentTypeDebitNote  DocumentType = "DEBIT_NOTE"
	DocumentTypeTicket     DocumentType = "TICKET"
)

// IsValid checks if the document type is valid
func (t DocumentType) IsValid() bool {
	switch t {
	case DocumentTypeInvoice, DocumentTypeCreditNote, DocumentTypeDebitNote, DocumentTypeTicket:
		return true
	}
	return false
}

// String returns the string representation
func (t DocumentType) String() string {
	return string(t)
}

// RequiresAuthorizedNumber reports whether documents of this type must
// carry a number issued from an authority-approved range. Tickets are
// internal receipts and are numbered only when the tenant has registered
// a ticket range.
func (t DocumentType) RequiresAuthorizedNumber() bool {
	switch t {
	case DocumentTypeInvoice, DocumentTypeCreditNote, DocumentTypeDebitNote:
		return true
	}
	return false
}

// AllDocumentTypes returns all valid document types
func AllDocumentTypes() []DocumentType {
	return []DocumentType{
		DocumentTypeInvoice,
		DocumentTypeCreditNote,
		DocumentTypeDebitNote,
		DocumentTypeTicket,
	}
}
