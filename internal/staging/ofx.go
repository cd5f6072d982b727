package staging

import (
	"fmt"
	"io"

	"github.com/aclindsa/ofxgo"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finledger/reconcile/internal/domain/record"
)

// parseOFX reads an OFX/QFX statement download. Both bank and credit card
// statement responses are accepted; FITID becomes the record id when the
// bank supplies one.
func (i *Importer) parseOFX(r io.Reader, source string) ([]*record.ExternalRecord, int, error) {
	resp, err := ofxgo.ParseResponse(r)
	if err != nil {
		return nil, 0, fmt.Errorf("parse ofx: %w", err)
	}

	var recs []*record.ExternalRecord
	invalid := 0
	for _, msg := range append(resp.Bank, resp.CreditCard...) {
		var trns []ofxgo.Transaction
		switch stmt := msg.(type) {
		case *ofxgo.StatementResponse:
			if stmt.BankTranList != nil {
				trns = stmt.BankTranList.Transactions
			}
		case *ofxgo.CCStatementResponse:
			if stmt.BankTranList != nil {
				trns = stmt.BankTranList.Transactions
			}
		default:
			continue
		}

		for _, trn := range trns {
			amt, err := decimal.NewFromString(trn.TrnAmt.String())
			if err != nil {
				i.logger.Warn("skipping ofx transaction with unparseable amount",
					"fitid", string(trn.FiTID), "amount", trn.TrnAmt.String())
				invalid++
				continue
			}

			id := string(trn.FiTID)
			if id == "" {
				id = uuid.NewString()
			}

			// Some banks put the useful text in Name, some in Memo,
			// some split it across both.
			desc := string(trn.Name)
			if memo := string(trn.Memo); memo != "" && memo != desc {
				if desc != "" {
					desc += " "
				}
				desc += memo
			}

			recs = append(recs, &record.ExternalRecord{
				ID:          id,
				Amount:      amt,
				PostedAt:    trn.DtPosted.Time.UTC(),
				Description: desc,
				Source:      source,
			})
		}
	}

	return recs, invalid, nil
}
