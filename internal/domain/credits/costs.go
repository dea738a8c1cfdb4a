package credits

// Операции, которые ходят за кредитами. Стоимости статические; если
// стоимость меняется между check и consume (только при деплое),
// consume списывает по актуальной таблице.
const (
	OpRFXAnalysis        = "rfx_analysis"
	OpProposalGeneration = "proposal_generation"
	OpDocumentExtraction = "document_extraction"
	OpDocumentExport     = "document_export"
)

var operationCosts = map[string]int64{
	OpRFXAnalysis:        5,
	OpProposalGeneration: 10,
	OpDocumentExtraction: 2,
	OpDocumentExport:     1,
}

func OperationCost(op string) (int64, bool) {
	c, ok := operationCosts[op]
	return c, ok
}
