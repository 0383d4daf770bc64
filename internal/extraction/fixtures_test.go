package extraction

// Page tables as the reader returns them for one document of each template.

func filler(n int) []Table {
	tables := make([]Table, n)
	for i := range tables {
		tables[i] = Table{{""}}
	}
	return tables
}

func stackedColumnsTables() []Table {
	tables := filler(4)
	tables[0] = Table{
		{"RECEBEMOS DE\nMADEIREIRA PINHO LTDA", "NF-e"},
		{"DANFE", "1 - SAIDA", "CHAVE DE ACESSO\n3524 0612 3456 7800 0190 5500 1000 0012 3410 0001 2345"},
		{""},
		{""},
		{"INSCRICAO ESTADUAL", "", "", "CNPJ\n12.345.678/0001-90"},
	}
	tables[2] = Table{
		{"NOME", "CNPJ/CPF", "", "", "DATA DA EMISSAO\n10/06/2024"},
	}
	tables[3] = Table{
		{"CÓDIGO\nPRODUTO", "DESCRIÇÃO DO PRODUTO\n/ SERVIÇO", "NCM/SH", "CFOP", "UN", "QUANT", "VALOR UNIT", "VALOR TOTAL"},
		{"M-1\nM-2", "- TABUA PINUS 30CM\nCAIBRO 5X5", "44071100\n44071100", "5102\n5102", "MT\nMT", "12,0000\n30,0000", "18,5000\n9,9000", "222,00\n297,00"},
	}
	return tables
}

func receiptStubTables() []Table {
	tables := filler(6)
	tables[0] = Table{
		{"RECEBEMOS DE CASA DOS PARAFUSOS OS PRODUTOS/SERVIÇOS CONSTANTES DA NOTA FISCAL INDICADA AO LADO"},
	}
	tables[1] = Table{
		{"DANFE", "", "CONTROLE DO FISCO\nCHAVE DE ACESSO\n35240698765432000110550010000099991000099999"},
		{""},
		{"INSCRICAO ESTADUAL", "CNPJ\n98.765.432/0001-10"},
	}
	tables[2] = Table{
		{"", "", "", "", "", "DATA DA EMISSAO\n03/05/2024"},
	}
	tables[5] = Table{
		{"COD", "DESCRICAO", "NCM", "CST", "CFOP", "UN", "QTD", "V.UNIT", "V.TOTAL"},
		{
			"A1\nA2",
			"PARAFUSO SEXTAVADO\nZINCADO\n3/8\nPORCA SEXTAVADA\nINOX\nM8",
			"73181500\n73181600",
			"000\n000",
			"5102\n5102",
			"UN\nUN",
			"100,0000\n50,0000",
			"0,4500\n0,3000",
			"45,00\n15,00",
		},
	}
	return tables
}

func singleLineItemsTables() []Table {
	tables := filler(4)
	tables[0] = Table{
		{"FERRAGENS CENTRAL - 11.222.333/0001-44\nAV BRASIL 100"},
		{"", "NF-e 000.123.456\nDATA DE EMISSÃO: 21/02/2024 14:10:00"},
	}
	stub := make([]string, 19)
	stub[18] = "CHAVE DE ACESSO 3524 0211 2223 3300 0144 5500 1000 1234 5610 0012 3456"
	tables[1] = Table{
		{"FERRAGENS CENTRAL LTDA\nAV BRASIL 100"},
		stub,
	}
	tables[3] = Table{
		{"DADOS DO PRODUTO"},
		{"CÓDIGO", "DESCRIÇÃO DO\nPRODUTO", "NCM/SH", "CFOP", "UNID", "QTDE", "VLR UNIT", "VLR TOTAL"},
		{"F-1", "DOBRADICA 3\"", "83021000", "5102", "UN", "6,0000\nPC", "7,50", "45,00 0,00"},
		{"", "", "", "", "", "", "", ""},
		{"F-2", "FECHADURA EXTERNA", "83014000", "5102", "UN", "1,0000", "89,90", "89,90 0,00"},
	}
	return tables
}

func fixedIssuerTables() []Table {
	tables := filler(9)
	tables[0] = Table{
		{"RECEBEMOS DE DEPOSITO SAO JORGE OS PRODUTOS CONSTANTES NA NOTA FISCAL AO LADO"},
	}
	tables[1] = Table{
		{"", "NOTA FISCAL Nº 4455 EMISSÃO 15/04/2024"},
	}
	tables[8] = Table{
		{"CÓDIGO", "DESCRIÇÃO DO PRODUTO", "NCM/SH", "CFOP", "UNID.", "QUANTIDADE", "VALOR UNITÁRIO"},
		{"D-7", "CIMENTO CPII 50KG", "25232910", "5102", "SC", "10,0000\n", "32,90 329,00"},
	}
	return tables
}
