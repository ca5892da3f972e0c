// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"github.com/AleutianAI/AleutianCare/services/llm"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/prompts"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/retrieval"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/vectorstore"
)

// TopicCombined selects the plan used when intent classification is disabled.
const TopicCombined conversation.Topic = "combined"

// Branch is one retrieval run of a plan.
type Branch struct {
	// Name identifies the branch in logs and metrics.
	Name string

	// LabelKey is the prompts section label used when the plan composes more
	// than one branch. Empty means the section is not labeled.
	LabelKey string

	Retriever retrieval.Retriever

	// ReportSources marks the branch whose chunks are reported to the caller.
	ReportSources bool
}

// RetrievalPlan is the set of branches run for one Topic.
type RetrievalPlan struct {
	Name     string
	Branches []Branch
}

// PlanTable maps each Topic to its retrieval plan.
type PlanTable map[conversation.Topic]RetrievalPlan

// Select returns the plan for topic, falling back to the unclassified plan.
func (t PlanTable) Select(topic conversation.Topic) (RetrievalPlan, bool) {
	if p, ok := t[topic]; ok {
		return p, true
	}
	p, ok := t[conversation.TopicUnclassified]
	return p, ok
}

// PlanDeps are the collaborators shared by the default plans.
type PlanDeps struct {
	Generate   llm.GenerateFunc
	Embedder   llm.Embedder
	Store      vectorstore.Store
	Prompts    prompts.Provider
	K          int
	MultiQuery retrieval.MultiQueryConfig
	Metrics    *observability.Metrics
}

// DefaultPlanTable builds the customer-care plans.
//
// # Plans
//
//	troubleshooting          multi-query over type = troubleshooting
//	product                  similarity over type = product
//	product_search_by_price  self-query over type = product, price predicate extracted
//	unclassified             similarity over the whole index
//	combined                 troubleshooting multi-query (sources) + product self-query
//
// Every single-branch plan reports its chunks as sources. The combined plan
// reports the troubleshooting branch only.
func DefaultPlanTable(deps PlanDeps) PlanTable {
	troubleshootingFilter := vectorstore.Eq(datatypes.MetaType, datatypes.DocTypeTroubleshooting)
	productFilter := vectorstore.Eq(datatypes.MetaType, datatypes.DocTypeProduct)

	troubleshooting := func() retrieval.Retriever {
		base := retrieval.NewSimilarityRetriever(deps.Embedder, deps.Store, troubleshootingFilter, deps.K)
		return retrieval.NewMultiQueryRetriever(deps.Generate, base, deps.Prompts, deps.MultiQuery)
	}
	byPrice := func() retrieval.Retriever {
		return retrieval.NewSelfQueryRetriever(deps.Generate, deps.Embedder, deps.Store, deps.Prompts,
			productFilter, deps.K, retrieval.WithMetrics(deps.Metrics))
	}

	return PlanTable{
		conversation.TopicTroubleshooting: {
			Name:     string(conversation.TopicTroubleshooting),
			Branches: []Branch{{Name: "troubleshooting", LabelKey: prompts.LabelTroubleshooting, Retriever: troubleshooting(), ReportSources: true}},
		},
		conversation.TopicProduct: {
			Name: string(conversation.TopicProduct),
			Branches: []Branch{{Name: "products", LabelKey: prompts.LabelProducts,
				Retriever: retrieval.NewSimilarityRetriever(deps.Embedder, deps.Store, productFilter, deps.K), ReportSources: true}},
		},
		conversation.TopicProductSearchByPrice: {
			Name:     string(conversation.TopicProductSearchByPrice),
			Branches: []Branch{{Name: "products_by_price", LabelKey: prompts.LabelProducts, Retriever: byPrice(), ReportSources: true}},
		},
		conversation.TopicUnclassified: {
			Name: string(conversation.TopicUnclassified),
			Branches: []Branch{{Name: "general",
				Retriever: retrieval.NewSimilarityRetriever(deps.Embedder, deps.Store, nil, deps.K), ReportSources: true}},
		},
		TopicCombined: {
			Name: string(TopicCombined),
			Branches: []Branch{
				{Name: "troubleshooting", LabelKey: prompts.LabelTroubleshooting, Retriever: troubleshooting(), ReportSources: true},
				{Name: "products_by_price", LabelKey: prompts.LabelProducts, Retriever: byPrice()},
			},
		},
	}
}
