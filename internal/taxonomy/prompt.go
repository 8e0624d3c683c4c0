package taxonomy

import (
	"fmt"
	"strings"
)

// NoTransactionsMessage is the error_message the model is told to return for
// a unit without transactions. It marks a benign empty unit, not a failure.
const NoTransactionsMessage = "no transactions found"

// SystemPrompt is the fixed instruction set sent with every categorization call.
var SystemPrompt = `Você é uma API de processamento de extratos financeiros de alta precisão.
Sua única tarefa é receber texto bruto (de um OCR ou extração nativa) e convertê-lo
em um objeto JSON estruturado e categorizado.

REGRAS DE ANÁLISE:
1.  **Varredura Completa:** Analise CADA linha do texto bruto minuciosamente. Procure por transações INDIVIDUAIS.

2.  **Filtragem Rigorosa:** IGNORE estas linhas que NÃO são transações:
    - Totalizadores (ex: "Total de compras", "Total geral", "Subtotal", "Valor total")
    - Resumos (ex: "Compras à vista R$", "Compras parceladas R$", "Lançamentos internacionais")
    - Cabeçalhos de tabela e seções
    - Informações de fatura (ex: "Fatura de [mês]", "Valor a pagar", "Débito automático")
    - Rodapés informativos sem transações específicas
    - Textos publicitários
    - Saldos e limites (ex: "Saldo anterior", "Limite disponível")
    - Agregadores de categoria (ex: "Total alimentação", "Total transporte")
    - Qualquer linha que NÃO tenha uma DATA específica associada

3.  **Critérios OBRIGATÓRIOS para ser considerado transação:**
    - DEVE ter uma DATA específica (DD/MM/YYYY, DD/MM/YY, etc.)
    - DEVE representar uma operação individual específica
    - DEVE ter um estabelecimento/serviço/descrição clara
    - NÃO pode ser um totalizador ou resumo

4.  **Extração de Transações REAIS:** Extraia APENAS transações individuais que representem:
    - Compras específicas em estabelecimentos (com data)
    - Serviços específicos contratados (com data)
    - Transferências individuais (com data)
    - Pagamentos específicos (com data)
    - Saques individuais (com data)
    - Taxas específicas de transações individuais (com data)

5.  **REJEITAR AUTOMATICAMENTE:** Qualquer entrada sem data específica ou que seja claramente um totalizador/resumo.

6.  **Tipo:** Determine 'tipo' ("receita" ou "despesa") com base no contexto (créditos, débitos, sinais de +/-).

7.  **Parcelamento:** Detecte parcelas (ex: "3/9", "PARC 01/12"). Se 'parcelado' for false, NÃO inclua os campos 'numero_parcelas' e 'total_parcelas'.

8.  **UUID:** Use "1" como 'uuid' para TODAS as transações.

9.  **Categorização:** Use as palavras-chave fornecidas no prompt do usuário para categorizar com precisão. Evite a categoria genérica a menos que seja a única opção.

10. **Output:** Retorne APENAS o objeto JSON, nada mais.

**ESTRUTURA JSON DE SAÍDA OBRIGATÓRIA:**
{
  "success": true,
  "bank_name": "Nome do Banco (ex: Bradesco, BTG Pactual, Inter)",
  "document_type": "[DETERMINE: 'credit-card-statement' ou 'bank-statement']",
  "transactions_count": 0,
  "transactions": [
    {
      "uuid": "1",
      "data": "YYYY-MM-DD",
      "descricao": "Descrição da transação",
      "valor": 99.99,
      "categoria": "CATEGORIA_PRINCIPAL",
      "tipo": "despesa",
      "subcategoria": "Subcategoria específica",
      "parcelado": true,
      "numero_parcelas": 3,
      "total_parcelas": 9
    },
    {
      "uuid": "1",
      "data": "YYYY-MM-DD",
      "descricao": "Outra transação",
      "valor": 50.00,
      "categoria": "ALIMENTACAO",
      "tipo": "despesa",
      "subcategoria": "Supermercado",
      "parcelado": false
    }
  ],
  "error_message": null
}

**SE NENHUMA TRANSAÇÃO FOR ENCONTRADA, retorne este JSON:**
{
  "success": false,
  "bank_name": "Nome do Banco (se identificável)",
  "document_type": "unknown",
  "transactions_count": 0,
  "transactions": [],
  "error_message": "` + NoTransactionsMessage + `"
}
`

// UserPrompt builds the per-unit prompt. label identifies the unit in the
// prompt ("página 3"); an empty label means the whole document.
func UserPrompt(t *Taxonomy, label, text string) string {
	var b strings.Builder
	if label == "" {
		b.WriteString("Analise este extrato financeiro e extraia TODAS as transações.\n\n")
	} else {
		fmt.Fprintf(&b, "Analise esta %s de extrato financeiro e extraia TODAS as transações.\n\n", label)
	}

	b.WriteString("**REGRAS DE CATEGORIZAÇÃO:**\n")
	b.WriteString(t.Render())

	if label == "" {
		b.WriteString("\n**TEXTO DO EXTRATO:**\n")
	} else {
		fmt.Fprintf(&b, "\n**TEXTO DA %s:**\n", strings.ToUpper(label))
	}
	b.WriteString(text)
	b.WriteString("\n\nRetorne apenas um JSON válido com o resultado.\n")
	return b.String()
}

// TranscribeInstruction asks a vision model for a faithful transcription of
// a single page.
const TranscribeInstruction = `Transcreva integralmente o texto desta página de extrato financeiro.
Preserve a ordem das linhas, datas, descrições e valores exatamente como aparecem.
Retorne apenas o texto transcrito, sem comentários.`

// BatchTranscribeInstruction asks for all pages in order, separated by marker.
func BatchTranscribeInstruction(marker string) string {
	return `Transcreva integralmente o texto de TODAS as páginas de extrato financeiro anexadas, na ordem em que foram enviadas.
Preserve a ordem das linhas, datas, descrições e valores exatamente como aparecem.
Separe o texto de cada página com a linha "` + strings.TrimSpace(marker) + `".
Retorne apenas o texto transcrito, sem comentários.`
}
