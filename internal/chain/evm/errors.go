package evm

import (
	"context"
	"errors"
	"strings"

	"github.com/songzhibin97/ammswap/internal/errs"
)

// revert reasons emitted by UniswapV2Router02 when the output floor is not met
var slippageReasons = []string{
	"INSUFFICIENT_OUTPUT_AMOUNT",
	"EXCESSIVE_INPUT_AMOUNT",
}

var signerRefusals = []string{
	"user rejected",
	"user denied",
	"request rejected",
	"declined",
}

func classifyRevert(op string, err error) error {
	msg := strings.ToUpper(err.Error())
	for _, reason := range slippageReasons {
		if strings.Contains(msg, reason) {
			return errs.E(errs.SlippageExceeded, op, err)
		}
	}
	// EXPIRED (deadline passed) and everything else is a plain revert
	return errs.E(errs.ChainReverted, op, err)
}

// rpcError maps transport failures. The transaction may or may not have landed.
func rpcError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errs.E(errs.NetworkTimeout, op, err)
	}
	lower := strings.ToLower(err.Error())
	for _, refusal := range signerRefusals {
		if strings.Contains(lower, refusal) {
			return errs.E(errs.SignerRejected, op, err)
		}
	}
	return errs.E(errs.NetworkTimeout, op, err)
}
