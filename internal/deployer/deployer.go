// Package deployer implements the contract deployment pipeline: derive a
// signer, connect, estimate gas, submit the creation transaction and wait for
// it to be included.
package deployer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/observability/alerting"
	"contract-deployer/internal/observability/metrics"
	"contract-deployer/internal/web3"
	"contract-deployer/internal/web3/ethereum"
	"contract-deployer/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Dialer opens a chain client for an endpoint. The returned client is closed
// by the deployer once the call finishes.
type Dialer func(ctx context.Context, endpoint string) (web3.Client, error)

// alertTimeout bounds a single failure notification.
const alertTimeout = 5 * time.Second

// Stage names the step a deployment has reached.
type Stage string

const (
	StageIdle         Stage = "idle"
	StageSignerReady  Stage = "signer_ready"
	StageConnected    Stage = "connected"
	StageGasEstimated Stage = "gas_estimated"
	StageSubmitted    Stage = "submitted"
	StageConfirmed    Stage = "confirmed"
	StageFailed       Stage = "failed"
)

// Deployment is the record of a confirmed deployment.
type Deployment struct {
	ID              string         `json:"id"`
	Chain           string         `json:"chain,omitempty"`
	ChainID         string         `json:"chain_id"`
	ContractAddress common.Address `json:"contract_address"`
	TransactionHash common.Hash    `json:"transaction_hash"`
	Sender          common.Address `json:"sender"`
	GasLimit        uint64         `json:"gas_limit"`
	GasUsed         uint64         `json:"gas_used"`
	BlockNumber     uint64         `json:"block_number"`
}

// MarshalJSON emits addresses in EIP-55 checksum form, matching Hex().
func (d Deployment) MarshalJSON() ([]byte, error) {
	type plain Deployment
	return json.Marshal(struct {
		plain
		ContractAddress string `json:"contract_address"`
		Sender          string `json:"sender"`
	}{plain: plain(d), ContractAddress: d.ContractAddress.Hex(), Sender: d.Sender.Hex()})
}

// Target identifies where to deploy. Chain is only used for labelling.
type Target struct {
	Chain       string
	Endpoint    string
	WaitTimeout time.Duration
}

// Deployer runs deployments. It holds no per-call state and is safe for
// concurrent use; concurrent calls sharing a key race on the account nonce,
// which is left to the node.
type Deployer struct {
	dial          Dialer
	logger        *slog.Logger
	metrics       *metrics.Recorder
	alerts        alerting.Dispatcher
	alertSeverity xerrors.Severity
	waitTimeout   time.Duration
}

// Option customises a Deployer.
type Option func(*Deployer)

// WithLogger overrides the logger used for stage transitions.
func WithLogger(l *slog.Logger) Option {
	return func(d *Deployer) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics records deployment outcomes on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(d *Deployer) {
		d.metrics = r
	}
}

// WithAlerts notifies dispatcher about failures at or above minSeverity.
func WithAlerts(dispatcher alerting.Dispatcher, minSeverity xerrors.Severity) Option {
	return func(d *Deployer) {
		d.alerts = dispatcher
		d.alertSeverity = minSeverity
	}
}

// WithWaitTimeout bounds the wait for inclusion. Zero leaves it to ctx.
func WithWaitTimeout(timeout time.Duration) Option {
	return func(d *Deployer) {
		if timeout > 0 {
			d.waitTimeout = timeout
		}
	}
}

// New creates a Deployer using dial to reach nodes.
func New(dial Dialer, opts ...Option) *Deployer {
	d := &Deployer{dial: dial}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.logger == nil {
		d.logger = logger.Named("deployer")
	}
	return d
}

// DeployContract deploys bytecode to the node at endpoint using the account
// behind privateKey and returns the confirmed contract address.
func DeployContract(ctx context.Context, endpoint, privateKey, abiJSON, bytecode string, args ...any) (string, error) {
	d := New(ethereum.Dial)
	return d.Deploy(ctx, endpoint, privateKey, web3.NewDeploymentRequest(abiJSON, bytecode, args...))
}

// Deploy runs the pipeline and returns only the contract address.
func (d *Deployer) Deploy(ctx context.Context, endpoint, privateKey string, req web3.DeploymentRequest) (string, error) {
	deployment, err := d.DeployWithReceipt(ctx, Target{Endpoint: endpoint}, privateKey, req)
	if err != nil {
		return "", err
	}
	return deployment.ContractAddress.Hex(), nil
}

// DeployWithReceipt runs the pipeline and returns the full deployment record.
// Every failure is returned as an *xerrors.Error whose cause is the original
// error of the failing step; nothing is retried.
func (d *Deployer) DeployWithReceipt(ctx context.Context, target Target, privateKey string, req web3.DeploymentRequest) (Deployment, error) {
	start := time.Now()
	deployment := Deployment{ID: uuid.NewString(), Chain: target.Chain}
	log := logger.FromContextOr(ctx, d.logger).With(slog.String("deployment_id", deployment.ID), slog.String("chain", target.Chain))

	result, err := d.run(ctx, log, target, privateKey, normalize(req), &deployment)
	status, code := metrics.StatusSucceeded, ""
	if err != nil {
		status, code = metrics.StatusFailed, string(xerrors.CodeOf(err))
		log.Warn("合约部署失败", slog.String("stage", string(StageFailed)), slog.String("code", code), slog.Any("error", err))
		d.alert(ctx, log, deployment, err)
	}
	d.metrics.ObserveDeployment(target.Chain, status, code, time.Since(start))
	return result, err
}

func (d *Deployer) run(ctx context.Context, log *slog.Logger, target Target, privateKey string, req web3.DeploymentRequest, deployment *Deployment) (Deployment, error) {
	signer, err := web3.NewSigner(privateKey)
	if err != nil {
		return Deployment{}, xerrors.Wrap(xerrors.CodeInvalidKey, err, "")
	}
	deployment.Sender = signer.Address()
	log = log.With(slog.String("sender", signer.Address().Hex()))
	log.Debug("已加载部署账户", slog.String("stage", string(StageSignerReady)))

	if d.dial == nil {
		return Deployment{}, xerrors.New(xerrors.CodeConfiguration, "deployer has no dialer")
	}
	client, err := d.dial(ctx, target.Endpoint)
	if err != nil {
		return Deployment{}, classify(xerrors.CodeConnectivity, err, "dial endpoint")
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return Deployment{}, classify(xerrors.CodeConnectivity, err, "read chain id")
	}
	deployment.ChainID = chainID.String()
	log.Debug("已连接节点", slog.String("stage", string(StageConnected)), slog.String("chain_id", deployment.ChainID))

	auth, err := signer.TransactOpts(ctx, chainID)
	if err != nil {
		return Deployment{}, xerrors.Wrap(xerrors.CodeInvalidKey, err, "build transact opts")
	}

	gas, err := client.EstimateDeployGas(ctx, signer.Address(), req)
	if err != nil {
		return Deployment{}, classify(xerrors.CodeGasEstimation, err, "")
	}
	deployment.GasLimit = gas
	d.metrics.ObserveEstimatedGas(target.Chain, gas)
	log.Debug("gas 估算完成", slog.String("stage", string(StageGasEstimated)), slog.Uint64("gas", gas))

	auth.GasLimit = gas
	submitted, err := client.DeployContract(ctx, auth, req)
	if err != nil {
		return Deployment{}, classify(xerrors.CodeExecution, err, "submit deployment")
	}
	deployment.TransactionHash = submitted.Transaction.Hash()
	log.Info("部署交易已提交",
		slog.String("stage", string(StageSubmitted)),
		slog.String("tx", deployment.TransactionHash.Hex()),
		slog.String("predicted_address", submitted.ContractAddress.Hex()),
	)

	waitCtx := ctx
	if timeout := d.waitTimeoutFor(target); timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	receipt, err := client.WaitDeployed(waitCtx, submitted.Transaction)
	if err != nil {
		return Deployment{}, classify(xerrors.CodeExecution, err, "wait for inclusion",
			xerrors.WithMetadata("tx", deployment.TransactionHash.Hex()))
	}

	deployment.ContractAddress = receipt.ContractAddress
	deployment.GasUsed = receipt.GasUsed
	if receipt.BlockNumber != nil {
		deployment.BlockNumber = receipt.BlockNumber.Uint64()
	}
	log.Info("合约部署成功",
		slog.String("stage", string(StageConfirmed)),
		slog.String("address", deployment.ContractAddress.Hex()),
		slog.Uint64("gas_used", deployment.GasUsed),
	)
	logger.Audit().Info("合约部署成功",
		slog.String("deployment_id", deployment.ID),
		slog.String("chain", deployment.Chain),
		slog.String("chain_id", deployment.ChainID),
		slog.String("sender", deployment.Sender.Hex()),
		slog.String("address", deployment.ContractAddress.Hex()),
		slog.String("tx", deployment.TransactionHash.Hex()),
		slog.Uint64("gas_limit", deployment.GasLimit),
		slog.Uint64("gas_used", deployment.GasUsed),
	)
	return *deployment, nil
}

// alert reports a failed deployment. It runs after the caller's context may
// have been cancelled, so it gets its own deadline.
func (d *Deployer) alert(ctx context.Context, log *slog.Logger, deployment Deployment, err error) {
	if d.alerts == nil {
		return
	}
	severity := xerrors.SeverityCritical
	event := alerting.Event{
		Code:         xerrors.CodeOf(err),
		Message:      err.Error(),
		DeploymentID: deployment.ID,
		Chain:        deployment.Chain,
		Metadata:     map[string]string{},
		OccurredAt:   time.Now().UTC(),
	}
	if coded, ok := xerrors.From(err); ok {
		severity = coded.Severity()
		for k, v := range coded.Metadata() {
			event.Metadata[k] = v
		}
	}
	if !alerting.AtLeast(severity, d.alertSeverity) {
		return
	}
	event.Severity = severity
	if deployment.Sender != (common.Address{}) {
		event.Metadata["sender"] = deployment.Sender.Hex()
	}
	if deployment.ChainID != "" {
		event.Metadata["chain_id"] = deployment.ChainID
	}
	if deployment.TransactionHash != (common.Hash{}) {
		event.Metadata["tx"] = deployment.TransactionHash.Hex()
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()
	if nerr := d.alerts.Notify(notifyCtx, event); nerr != nil {
		log.Warn("告警发送失败", slog.Any("error", nerr))
	}
}

func (d *Deployer) waitTimeoutFor(target Target) time.Duration {
	if target.WaitTimeout > 0 {
		return target.WaitTimeout
	}
	return d.waitTimeout
}

// normalize makes sure requests built by hand still carry a 0x prefix.
func normalize(req web3.DeploymentRequest) web3.DeploymentRequest {
	req.Bytecode = web3.NormalizeBytecode(req.Bytecode)
	return req
}

// classify picks the error code for a failed step. Request problems,
// expired deadlines and caller cancellation override the step's default code.
func classify(code xerrors.Code, err error, message string, opts ...xerrors.Option) error {
	switch {
	case errors.Is(err, web3.ErrMalformedRequest):
		code = xerrors.CodeInvalidRequest
	case errors.Is(err, context.DeadlineExceeded):
		code = xerrors.CodeTimeout
	case errors.Is(err, context.Canceled):
		code = xerrors.CodeCanceled
	case errors.Is(err, web3.ErrDeploymentReverted):
		code = xerrors.CodeExecution
	}
	return xerrors.Wrap(code, err, message, opts...)
}
