package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"contract-deployer/sdk/go/deployclient"
)

func main() {
	baseURL := flag.String("url", "http://127.0.0.1:8080", "deployctl serve address")
	chain := flag.String("chain", "", "target chain, server default if empty")
	abiPath := flag.String("abi", "", "path to the contract ABI")
	binPath := flag.String("bin", "", "path to the creation bytecode")
	flag.Parse()

	if *abiPath == "" || *binPath == "" {
		log.Fatal("usage: examples -abi Contract.abi -bin Contract.bin [-url URL] [-chain NAME] [args...]")
	}
	abiJSON, err := os.ReadFile(*abiPath)
	if err != nil {
		log.Fatalf("read abi: %v", err)
	}
	bytecode, err := os.ReadFile(*binPath)
	if err != nil {
		log.Fatalf("read bytecode: %v", err)
	}

	client, err := deployclient.NewClient(*baseURL, nil)
	if err != nil {
		log.Fatal(err)
	}
	client.SetAccessToken(os.Getenv("DEPLOYER_API_TOKEN"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	args := make([]any, 0, flag.NArg())
	for _, arg := range flag.Args() {
		args = append(args, arg)
	}
	deployment, err := client.Deploy(ctx, deployclient.DeployRequest{
		Chain:    *chain,
		ABI:      json.RawMessage(abiJSON),
		Bytecode: string(bytecode),
		Args:     args,
	})
	if err != nil {
		log.Fatalf("deploy: %v", err)
	}

	fmt.Printf("contract %s deployed in tx %s (block %d, gas %d)\n",
		deployment.ContractAddress, deployment.TransactionHash, deployment.BlockNumber, deployment.GasUsed)
}
